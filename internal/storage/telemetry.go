package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chillerhub/internal/logger"
	"chillerhub/internal/models"
)

// PostgresTelemetry is the TelemetryStore backed by PostgreSQL.
type PostgresTelemetry struct {
	db *sql.DB
}

// NewPostgresTelemetry wraps an open connection pool.
func NewPostgresTelemetry(db *sql.DB) *PostgresTelemetry {
	return &PostgresTelemetry{db: db}
}

// WithinTx runs fn inside a database transaction.
func (s *PostgresTelemetry) WithinTx(ctx context.Context, fn func(TxWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.WithComponent("storage").Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) InsertTelemetry(ctx context.Context, p models.TelemetryPoint) (models.TelemetryPoint, error) {
	query := `
		INSERT INTO chiller_telemetry
			(organization_id, building_id, chiller_unit_id, timestamp, inlet_temp, outlet_temp, power_kw, flow_rate, cop)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		p.OrganizationID, p.BuildingID, p.UnitID, p.Timestamp,
		p.InletTemp, p.OutletTemp, p.PowerKW, p.FlowRate, p.COP,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return models.TelemetryPoint{}, fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return p, nil
}

func (t *pgTx) InsertAlertEvents(ctx context.Context, events []models.AlertEvent) ([]models.AlertEvent, error) {
	query := `
		INSERT INTO alert_events
			(organization_id, alert_rule_id, chiller_unit_id, severity, metric_key, metric_value, message, triggered_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, triggered_at
	`
	out := make([]models.AlertEvent, 0, len(events))
	for _, e := range events {
		err := t.tx.QueryRowContext(ctx, query,
			e.OrganizationID, e.RuleID, e.UnitID, string(e.Severity), e.MetricKey,
			e.MetricValue, e.Message, e.TriggeredAt, e.Acknowledged,
		).Scan(&e.ID, &e.TriggeredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert alert event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// ScanTelemetry streams points matching f in timestamp order.
func (s *PostgresTelemetry) ScanTelemetry(ctx context.Context, f TelemetryFilter, fn func(models.TelemetryPoint) error) error {
	w := &where{}
	w.add("organization_id = $%d", f.OrganizationID)
	if f.BuildingID != nil {
		w.add("building_id = $%d", *f.BuildingID)
	}
	if f.UnitID != nil {
		w.add("chiller_unit_id = $%d", *f.UnitID)
	}
	if f.Start != nil {
		w.add("timestamp >= $%d", *f.Start)
	}
	if f.End != nil {
		w.add("timestamp <= $%d", *f.End)
	}

	query := `
		SELECT id, organization_id, building_id, chiller_unit_id, timestamp,
			inlet_temp, outlet_temp, power_kw, flow_rate, cop, created_at
		FROM chiller_telemetry
		WHERE ` + w.String() + `
		ORDER BY timestamp, chiller_unit_id
	`
	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.TelemetryPoint
		if err := rows.Scan(
			&p.ID,
			&p.OrganizationID,
			&p.BuildingID,
			&p.UnitID,
			&p.Timestamp,
			&p.InletTemp,
			&p.OutletTemp,
			&p.PowerKW,
			&p.FlowRate,
			&p.COP,
			&p.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan telemetry: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		if err := fn(p); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate telemetry: %w", err)
	}
	return ctx.Err()
}

// ListAlertEvents returns the alert feed for an organization.
func (s *PostgresTelemetry) ListAlertEvents(ctx context.Context, f models.AlertFilter) ([]models.AlertEvent, models.AlertSummary, error) {
	w := &where{}
	w.add("organization_id = $%d", f.OrganizationID)
	if f.UnitID != nil {
		w.add("chiller_unit_id = $%d", *f.UnitID)
	}
	if f.Severity != nil {
		w.add("severity = $%d", string(*f.Severity))
	}
	if f.Start != nil {
		w.add("triggered_at >= $%d", *f.Start)
	}
	if f.End != nil {
		w.add("triggered_at <= $%d", *f.End)
	}

	summary := models.NewAlertSummary()
	countQuery := `SELECT severity, COUNT(*) FROM alert_events WHERE ` + w.String() + ` GROUP BY severity`
	countRows, err := s.db.QueryContext(ctx, countQuery, w.args...)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to count alert events: %w", err)
	}
	for countRows.Next() {
		var severity string
		var n int
		if err := countRows.Scan(&severity, &n); err != nil {
			countRows.Close()
			return nil, summary, fmt.Errorf("failed to scan alert counts: %w", err)
		}
		summary.BySeverity[severity] += n
		summary.Total += n
	}
	countRows.Close()
	if err := countRows.Err(); err != nil {
		return nil, summary, fmt.Errorf("failed to iterate alert counts: %w", err)
	}

	query := `
		SELECT id, organization_id, alert_rule_id, chiller_unit_id, severity, metric_key,
			metric_value, message, triggered_at, acknowledged
		FROM alert_events
		WHERE ` + w.String() + `
		ORDER BY triggered_at DESC, id DESC
	`
	args := w.args
	if f.Limit > 0 {
		args = append(append([]any(nil), args...), f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	events := []models.AlertEvent{}
	for rows.Next() {
		var e models.AlertEvent
		var ruleID, unitID sql.NullInt64
		var severity string
		if err := rows.Scan(
			&e.ID,
			&e.OrganizationID,
			&ruleID,
			&unitID,
			&severity,
			&e.MetricKey,
			&e.MetricValue,
			&e.Message,
			&e.TriggeredAt,
			&e.Acknowledged,
		); err != nil {
			return nil, summary, fmt.Errorf("failed to scan alert event: %w", err)
		}
		e.RuleID, e.UnitID = nullInt64(ruleID), nullInt64(unitID)
		e.Severity = models.Severity(severity)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, summary, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, summary, nil
}

// Ping checks the connection.
func (s *PostgresTelemetry) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresTelemetry) Close() error {
	if s.db == nil {
		return nil
	}
	logger.WithComponent("storage").Info().Msg("closing telemetry database")
	return s.db.Close()
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(w.clauses, " AND ")
}
