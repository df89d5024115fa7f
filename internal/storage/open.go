package storage

import (
	"context"
	"database/sql"
	"fmt"

	"chillerhub/internal/logger"
)

// Options selects and configures the storage driver.
type Options struct {
	Driver       string // postgres, memory
	TelemetryDSN string
	ConfigDSN    string
	Pool         PoolConfig
	Migrate      bool
}

// Open returns the configured stores. With the postgres driver, equal DSNs
// share one connection pool.
func Open(ctx context.Context, opts Options) (Stores, *Memory, error) {
	log := logger.WithComponent("storage")

	switch opts.Driver {
	case "memory":
		log.Warn().Msg("using in-memory storage; data is lost on restart")
		mem := NewMemory()
		return Stores{Telemetry: mem, Config: mem}, mem, nil

	case "postgres", "":
		telemetryDB, err := OpenPostgres(ctx, opts.TelemetryDSN, opts.Pool)
		if err != nil {
			return Stores{}, nil, fmt.Errorf("telemetry store: %w", err)
		}

		configDB := telemetryDB
		if opts.ConfigDSN != "" && opts.ConfigDSN != opts.TelemetryDSN {
			configDB, err = OpenPostgres(ctx, opts.ConfigDSN, opts.Pool)
			if err != nil {
				telemetryDB.Close()
				return Stores{}, nil, fmt.Errorf("config store: %w", err)
			}
		}

		if opts.Migrate {
			if err := migrate(ctx, configDB, telemetryDB); err != nil {
				telemetryDB.Close()
				configDB.Close()
				return Stores{}, nil, err
			}
		}

		return Stores{
			Telemetry: NewPostgresTelemetry(telemetryDB),
			Config:    NewPostgresConfig(configDB).WithEventsDB(telemetryDB),
		}, nil, nil

	default:
		return Stores{}, nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

func migrate(ctx context.Context, configDB, telemetryDB *sql.DB) error {
	if err := MigrateConfig(ctx, configDB); err != nil {
		return err
	}
	if err := MigrateTelemetry(ctx, telemetryDB); err != nil {
		return err
	}
	logger.WithComponent("storage").Info().Msg("schema migrated")
	return nil
}
