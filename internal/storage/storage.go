// Package storage persists telemetry, alert events and tenant configuration.
//
// Telemetry points and alert events live in the telemetry store; the
// organization hierarchy, rules, data sources and baselines live in the
// config store. The two may be separate databases.
package storage

import (
	"context"
	"time"

	"chillerhub/internal/models"
)

// TxWriter writes inside a telemetry transaction.
type TxWriter interface {
	InsertTelemetry(ctx context.Context, p models.TelemetryPoint) (models.TelemetryPoint, error)
	InsertAlertEvents(ctx context.Context, events []models.AlertEvent) ([]models.AlertEvent, error)
}

// TelemetryFilter selects points for analytics. Start and End are both
// inclusive.
type TelemetryFilter struct {
	OrganizationID int64
	BuildingID     *int64
	UnitID         *int64
	Start          *time.Time
	End            *time.Time
}

// Match reports whether p passes the filter.
func (f TelemetryFilter) Match(p models.TelemetryPoint) bool {
	if p.OrganizationID != f.OrganizationID {
		return false
	}
	if f.BuildingID != nil && p.BuildingID != *f.BuildingID {
		return false
	}
	if f.UnitID != nil && p.UnitID != *f.UnitID {
		return false
	}
	if f.Start != nil && p.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && p.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// TelemetryStore holds telemetry points and alert events.
type TelemetryStore interface {
	// WithinTx runs fn in a transaction. Everything fn wrote is committed
	// when it returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(TxWriter) error) error
	// ScanTelemetry streams matching points ordered by timestamp and unit.
	// Returning an error from fn stops the scan.
	ScanTelemetry(ctx context.Context, f TelemetryFilter, fn func(models.TelemetryPoint) error) error
	// ListAlertEvents returns the newest events first along with counts of
	// every matching event regardless of the limit.
	ListAlertEvents(ctx context.Context, f models.AlertFilter) ([]models.AlertEvent, models.AlertSummary, error)
	Ping(ctx context.Context) error
	Close() error
}

// ConfigStore holds the organization hierarchy and per-unit configuration.
// Lookups of missing records return an error wrapping apperr.ErrNotFound.
type ConfigStore interface {
	GetBuilding(ctx context.Context, id int64) (models.Building, error)
	GetUnit(ctx context.Context, id int64) (models.Unit, error)
	GetDataSource(ctx context.Context, id int64) (models.DataSource, error)
	GetAlertRule(ctx context.Context, id int64) (models.AlertRule, error)
	GetBaseline(ctx context.Context, id int64) (models.Baseline, error)

	OrganizationIDByName(ctx context.Context, name string) (int64, error)
	// UnitNames maps every unit id of the organization to its name.
	UnitNames(ctx context.Context, orgID int64) (map[int64]string, error)

	ActiveRulesForUnit(ctx context.Context, unitID int64) ([]models.AlertRule, error)
	ListAlertRules(ctx context.Context, orgID int64, unitID *int64) ([]models.AlertRule, error)
	CreateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error)
	UpdateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id int64) error

	ListDataSources(ctx context.Context, orgID int64, unitID *int64) ([]models.DataSource, error)
	CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error)
	DeleteDataSource(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// Stores bundles the two stores a process runs against.
type Stores struct {
	Telemetry TelemetryStore
	Config    ConfigStore
}

// Close closes both stores, reporting the first error.
func (s Stores) Close() error {
	var first error
	if s.Telemetry != nil {
		if err := s.Telemetry.Close(); err != nil {
			first = err
		}
	}
	if s.Config != nil {
		if err := s.Config.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
