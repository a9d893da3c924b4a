package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"bustracker/internal/config"
	"bustracker/internal/db"
	"bustracker/internal/feed"
	"bustracker/internal/logging"
	"bustracker/internal/metrics"
	"bustracker/internal/publisher"
	"bustracker/internal/replay"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	data, err := os.ReadFile(cfg.ReplayTracks)
	if err != nil {
		logger.Fatalf("read tracks: %v", err)
	}
	var archive []byte
	if cfg.ReplayGTFS != "" {
		if archive, err = os.ReadFile(cfg.ReplayGTFS); err != nil {
			logger.Fatalf("read GTFS archive: %v", err)
		}
	}
	tracks, err := replay.ParseTracks(data, archive)
	if err != nil {
		logger.Fatalf("tracks error: %v", err)
	}
	logger.Infof("loaded %d tracks from %s", len(tracks), cfg.ReplayTracks)

	mcol := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var pub publisher.Publisher
	switch cfg.FeedBackend {
	case "kafka":
		pub = publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, mcol)
	default:
		nc, err := feed.Connect(cfg.NATSURL, "busreporter", logger, mcol)
		if err != nil {
			logger.Fatalf("nats error: %v", err)
		}
		pub = publisher.NewNATSPublisher(nc, cfg.LogLevel == "debug" || cfg.LogLevel == "trace", logger, mcol)
	}
	defer pub.Close()

	// Optionally mirror every report into the live_locations table
	var store replay.Store
	if cfg.ReplayPersist {
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
		store = db.Locations{DB: sqlDB}
	}

	mgr := replay.NewManager(pub, store, replay.Options{
		PublishInterval: cfg.PublishInterval,
		SpeedMultiplier: cfg.SpeedMultiplier,
		MaxRate:         cfg.ReplayMaxRate,
	}, logger, mcol)
	mgr.Start(ctx, tracks)

	// Non-looping tracks end on their own
	done := make(chan struct{})
	go func() {
		mgr.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		mgr.Stop()
	case <-done:
		logger.Info("all tracks finished")
	}
	logger.Info("shutdown complete")
}
