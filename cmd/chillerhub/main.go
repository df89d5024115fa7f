package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"chillerhub/internal/config"
	"chillerhub/internal/logger"
	"chillerhub/internal/server"
	"chillerhub/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	logLevel := flag.String("log-level", "", "override log.level")
	migrate := flag.Bool("migrate", false, "create or update the database schema on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("info")
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *migrate {
		cfg.Database.Migrate = true
	}
	logger.Init(cfg.Log.Level)
	log := logger.WithComponent("main")

	// wait for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("node_id", cfg.NodeID).
		Str("driver", cfg.Database.Driver).
		Str("telemetry_dsn", config.MaskDSN(cfg.Database.TelemetryDSN)).
		Bool("kafka", cfg.Kafka.Enabled).
		Bool("redis", cfg.Redis.Enabled).
		Msg("starting chillerhub")

	stores, mem, err := storage.Open(ctx, storage.Options{
		Driver:       cfg.Database.Driver,
		TelemetryDSN: cfg.Database.TelemetryDSN,
		ConfigDSN:    cfg.Database.ConfigDSN,
		Migrate:      cfg.Database.Migrate,
		Pool: storage.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	if mem != nil {
		org, err := mem.SeedDemo(ctx, cfg.Auth.ServiceOrganization)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed demo data")
		}
		log.Info().Int64("organization_id", org.ID).Str("organization", org.Name).Msg("seeded demo organization")
	}

	srv, err := server.New(ctx, cfg, stores)
	if err != nil {
		stores.Close()
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
	log.Info().Msg("exited")
}
