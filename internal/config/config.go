package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string `validate:"required"`

	FeedBackend  string   `validate:"oneof=nats kafka"`
	FeedFormat   string   `validate:"oneof=json gtfsrt"`
	NATSURL      string   `validate:"required_if=FeedBackend nats"`
	KafkaBrokers []string `validate:"required_if=FeedBackend kafka,dive,hostname_port"`
	KafkaTopic   string   `validate:"required_if=FeedBackend kafka"`
	KafkaGroupID string

	HTTPAddr    string `validate:"required"`
	MetricsAddr string
	CORSOrigins []string

	Platform  string `validate:"required"`
	PrefsPath string `validate:"required"`

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string `validate:"omitempty,url"`

	LogLevel  string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `validate:"oneof=json text"`

	// Reporter settings.
	PublishInterval time.Duration `validate:"gt=0"`
	SpeedMultiplier float64       `validate:"gt=0"`
	ReplayTracks    string        `validate:"required"`
	ReplayGTFS      string
	ReplayMaxRate   float64 `validate:"gte=0"`
	ReplayPersist   bool
}

// Load reads .env (if present) and the process environment into a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PGHOST", "127.0.0.1")
	v.SetDefault("PGPORT", "5432")
	v.SetDefault("PGUSER", "postgres")
	v.SetDefault("PGPASSWORD", "")
	v.SetDefault("PGDATABASE", "bustracker")
	v.SetDefault("PGSSLMODE", "disable")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PG_DSN", "")

	v.SetDefault("FEED_BACKEND", "nats")
	v.SetDefault("FEED_FORMAT", "json")
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "bus-locations")
	v.SetDefault("KAFKA_GROUP_ID", "bustracker")

	v.SetDefault("HTTP_ADDR", "127.0.0.1:8090")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8081,http://localhost:19006")

	v.SetDefault("PLATFORM", "web")
	v.SetDefault("PREFS_PATH", "bustracker.db")

	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://127.0.0.1:8090/auth/callback")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	v.SetDefault("PUBLISH_INTERVAL_MS", 1000)
	v.SetDefault("SPEED_MULTIPLIER", 1.0)
	v.SetDefault("REPLAY_TRACKS", "tracks.yaml")
	v.SetDefault("REPLAY_GTFS", "")
	v.SetDefault("REPLAY_MAX_RATE", 0)
	v.SetDefault("REPLAY_PERSIST", false)
	return v
}

func load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	// Prefer DATABASE_URL / PG_DSN, else build from PG* vars
	cfg.DatabaseURL = firstNonEmpty(v.GetString("DATABASE_URL"), v.GetString("PG_DSN"))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = buildDSN(
			v.GetString("PGUSER"), v.GetString("PGPASSWORD"),
			v.GetString("PGHOST"), v.GetString("PGPORT"),
			v.GetString("PGDATABASE"), v.GetString("PGSSLMODE"),
		)
	}

	cfg.FeedBackend = strings.ToLower(strings.TrimSpace(v.GetString("FEED_BACKEND")))
	cfg.FeedFormat = strings.ToLower(strings.TrimSpace(v.GetString("FEED_FORMAT")))
	cfg.NATSURL = v.GetString("NATS_URL")
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.KafkaTopic = v.GetString("KAFKA_TOPIC")
	cfg.KafkaGroupID = v.GetString("KAFKA_GROUP_ID")

	cfg.HTTPAddr = v.GetString("HTTP_ADDR")
	// Empty disables the metrics server.
	cfg.MetricsAddr = v.GetString("METRICS_ADDR")
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	cfg.Platform = strings.ToLower(strings.TrimSpace(v.GetString("PLATFORM")))
	cfg.PrefsPath = v.GetString("PREFS_PATH")

	cfg.GoogleClientID = v.GetString("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = v.GetString("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = v.GetString("GOOGLE_REDIRECT_URL")

	cfg.LogLevel = strings.ToLower(v.GetString("LOG_LEVEL"))
	cfg.LogFormat = strings.ToLower(v.GetString("LOG_FORMAT"))

	ms := v.GetInt("PUBLISH_INTERVAL_MS")
	if ms <= 0 {
		return nil, fmt.Errorf("invalid PUBLISH_INTERVAL_MS: %q", v.GetString("PUBLISH_INTERVAL_MS"))
	}
	cfg.PublishInterval = time.Duration(ms) * time.Millisecond
	cfg.SpeedMultiplier = v.GetFloat64("SPEED_MULTIPLIER")
	cfg.ReplayTracks = v.GetString("REPLAY_TRACKS")
	// Only needed when a track names a shapeId.
	cfg.ReplayGTFS = v.GetString("REPLAY_GTFS")
	cfg.ReplayMaxRate = v.GetFloat64("REPLAY_MAX_RATE")
	cfg.ReplayPersist = v.GetBool("REPLAY_PERSIST")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func buildDSN(user, pass, host, port, db, sslmode string) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + db,
		RawQuery: "sslmode=" + url.QueryEscape(sslmode),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
