package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"chillerhub/internal/apperr"
	"chillerhub/internal/logger"
)

//go:embed schema/config.sql
var configSchema string

//go:embed schema/telemetry.sql
var telemetrySchema string

// PoolConfig sizes a database connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolConfig returns the pool settings used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// OpenPostgres opens and pings a PostgreSQL connection pool.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	timeout := pool.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

// MigrateConfig creates the configuration tables if they do not exist.
func MigrateConfig(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, configSchema); err != nil {
		return fmt.Errorf("migrate config schema: %w", err)
	}
	logger.WithComponent("storage").Info().Msg("config schema applied")
	return nil
}

// MigrateTelemetry creates the telemetry tables if they do not exist.
func MigrateTelemetry(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, telemetrySchema); err != nil {
		return fmt.Errorf("migrate telemetry schema: %w", err)
	}
	logger.WithComponent("storage").Info().Msg("telemetry schema applied")
	return nil
}

// notFound maps sql.ErrNoRows onto apperr.ErrNotFound.
func notFound(err error, kind string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %d: %w", kind, id, err)
}

// constraintError translates integrity violations into input errors.
func constraintError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record does not exist: %w", op, apperr.ErrInvalidInput)
		case "23514": // check_violation
			return fmt.Errorf("%s: %s: %w", op, pqErr.Constraint, apperr.ErrInvalidInput)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullFloat64(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
