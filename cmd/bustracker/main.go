package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bustracker/internal/auth"
	"bustracker/internal/config"
	"bustracker/internal/db"
	"bustracker/internal/feed"
	"bustracker/internal/httpapi"
	"bustracker/internal/logging"
	"bustracker/internal/mapview"
	"bustracker/internal/metrics"
	"bustracker/internal/prefs"
	"bustracker/internal/screen"
	"bustracker/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := db.Ping(ctx, sqlDB); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}
	if err := db.EnsureSchema(ctx, sqlDB); err != nil {
		logger.Fatalf("db schema error: %v", err)
	}

	mcol := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		msrv := mcol.Serve(cfg.MetricsAddr, logger)
		defer shutdown(msrv)
	}

	// Live feed: seed from the last stored positions, then follow the transport
	hub := feed.NewHub(logger, mcol)
	defer hub.Close()
	if locs, err := db.FetchLocations(ctx, sqlDB); err != nil {
		logger.WithError(err).Warn("could not seed live locations")
	} else {
		hub.Seed(locs)
		logger.Infof("seeded %d live locations", len(locs))
	}

	feedDone := make(chan struct{})
	switch cfg.FeedBackend {
	case "kafka":
		src := feed.NewKafkaSource(feed.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
			Format:  cfg.FeedFormat,
		}, logger, mcol)
		go func() {
			defer close(feedDone)
			if err := src.Run(ctx, hub); err != nil {
				logger.WithError(err).Error("kafka feed stopped")
			}
		}()
	default:
		nc, err := feed.Connect(cfg.NATSURL, "bustracker", logger, mcol)
		if err != nil {
			logger.Fatalf("nats error: %v", err)
		}
		defer nc.Close()
		src := feed.NewNATSSource(nc, cfg.FeedFormat, logger, mcol)
		go func() {
			defer close(feedDone)
			if err := src.Run(ctx, hub); err != nil {
				logger.WithError(err).Error("nats feed stopped")
			}
		}()
	}

	store, err := prefs.OpenSQLite(ctx, cfg.PrefsPath)
	if err != nil {
		logger.Fatalf("prefs open error: %v", err)
	}
	defer store.Close()

	// Session
	if cfg.GoogleClientID == "" {
		logger.Warn("GOOGLE_CLIENT_ID is not set; Google sign-in will fail")
	}
	provider, err := auth.NewGoogleProvider(ctx, auth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, store, logger)
	if err != nil {
		logger.Fatalf("auth provider error: %v", err)
	}
	session := auth.NewSession(provider, db.Users{DB: sqlDB}, logger, mcol)
	defer session.Close()

	// Screens
	routes := screen.NewRouteSelection(
		tracker.NewCatalog(db.Routes{DB: sqlDB}, logger, mcol),
		store, logger, mcol,
	)
	routes.Mount(ctx)
	defer routes.Unmount()

	renderer := mapview.NewDispatcher(cfg.Platform)
	logger.WithField("platform", renderer.Platform()).Info("map renderer selected")
	live := screen.NewLiveMap(
		tracker.NewTracker(db.Buses{DB: sqlDB}, hub, logger, mcol),
		store, renderer, logger, mcol,
	)
	live.Mount(ctx)
	defer live.Unmount()

	api := httpapi.New(httpapi.Deps{
		Session:     session,
		SignIn:      provider,
		Routes:      routes,
		Map:         live,
		Ping:        func(ctx context.Context) error { return db.Ping(ctx, sqlDB) },
		Metrics:     mcol.Handler(),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server error")
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	api.Close()
	shutdown(srv)
	<-feedDone
	// Let the last route selection reach the store before it closes
	routes.Wait()
	logger.Info("shutdown complete")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
