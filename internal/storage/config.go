package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"chillerhub/internal/apperr"
	"chillerhub/internal/logger"
	"chillerhub/internal/models"
)

// PostgresConfig is the ConfigStore backed by PostgreSQL.
type PostgresConfig struct {
	db *sql.DB
	// events holds alert_events, which live with the telemetry.
	events *sql.DB
}

// NewPostgresConfig wraps an open connection pool. Alert events are assumed
// to share it until WithEventsDB says otherwise.
func NewPostgresConfig(db *sql.DB) *PostgresConfig {
	return &PostgresConfig{db: db, events: db}
}

// WithEventsDB sets the pool holding alert_events.
func (s *PostgresConfig) WithEventsDB(db *sql.DB) *PostgresConfig {
	s.events = db
	return s
}

const ruleColumns = `r.id, r.chiller_unit_id, r.name, r.metric_key, r.condition_operator, r.threshold_value,
	r.severity, r.is_active, r.recipient_emails, r.created_at, r.updated_at`

const dataSourceColumns = `d.id, d.chiller_unit_id, d.type, d.connection_params, d.created_at, d.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetBuilding retrieves a building by ID.
func (s *PostgresConfig) GetBuilding(ctx context.Context, id int64) (models.Building, error) {
	query := `
		SELECT id, organization_id, name, location, latitude, longitude, created_at
		FROM buildings
		WHERE id = $1
	`
	var b models.Building
	var lat, lng sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.OrganizationID,
		&b.Name,
		&b.Location,
		&lat,
		&lng,
		&b.CreatedAt,
	)
	if err != nil {
		return models.Building{}, notFound(err, "building", id)
	}
	b.Latitude, b.Longitude = nullFloat64(lat), nullFloat64(lng)
	return b, nil
}

// GetUnit retrieves a chiller unit by ID.
func (s *PostgresConfig) GetUnit(ctx context.Context, id int64) (models.Unit, error) {
	query := `
		SELECT id, building_id, name, manufacturer, model, capacity_tons, created_at
		FROM chiller_units
		WHERE id = $1
	`
	var u models.Unit
	var capacity sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID,
		&u.BuildingID,
		&u.Name,
		&u.Manufacturer,
		&u.Model,
		&capacity,
		&u.CreatedAt,
	)
	if err != nil {
		return models.Unit{}, notFound(err, "unit", id)
	}
	u.CapacityTons = nullFloat64(capacity)
	return u, nil
}

// GetBaseline retrieves a baseline value by ID.
func (s *PostgresConfig) GetBaseline(ctx context.Context, id int64) (models.Baseline, error) {
	query := `
		SELECT id, organization_id, building_id, chiller_unit_id, name, metric_key, value, unit, notes, created_at
		FROM baseline_values
		WHERE id = $1
	`
	var b models.Baseline
	var buildingID, unitID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&b.ID,
		&b.OrganizationID,
		&buildingID,
		&unitID,
		&b.Name,
		&b.MetricKey,
		&b.Value,
		&b.Unit,
		&b.Notes,
		&b.CreatedAt,
	)
	if err != nil {
		return models.Baseline{}, notFound(err, "baseline", id)
	}
	b.BuildingID, b.UnitID = nullInt64(buildingID), nullInt64(unitID)
	return b, nil
}

// OrganizationIDByName resolves an organization by its unique name.
func (s *PostgresConfig) OrganizationIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM organizations WHERE name = $1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("organization %q: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get organization %q: %w", name, err)
	}
	return id, nil
}

// UnitNames maps each unit of the organization to its name.
func (s *PostgresConfig) UnitNames(ctx context.Context, orgID int64) (map[int64]string, error) {
	query := `
		SELECT u.id, u.name
		FROM chiller_units u
		JOIN buildings b ON b.id = u.building_id
		WHERE b.organization_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate units: %w", err)
	}
	return names, nil
}

// ============================================================================
// Alert rules
// ============================================================================

func scanRule(row rowScanner) (models.AlertRule, error) {
	var r models.AlertRule
	var op, severity string
	var recipients pq.StringArray
	err := row.Scan(
		&r.ID,
		&r.UnitID,
		&r.Name,
		&r.MetricKey,
		&op,
		&r.Threshold,
		&severity,
		&r.IsActive,
		&recipients,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return models.AlertRule{}, err
	}
	r.Operator, r.Severity = models.Operator(op), models.Severity(severity)
	r.Recipients = []string(recipients)
	if r.Recipients == nil {
		r.Recipients = []string{}
	}
	return r, nil
}

func (s *PostgresConfig) queryRules(ctx context.Context, query string, args ...any) ([]models.AlertRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}
	defer rows.Close()

	rules := []models.AlertRule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rules: %w", err)
	}
	return rules, nil
}

// GetAlertRule retrieves an alert rule by ID.
func (s *PostgresConfig) GetAlertRule(ctx context.Context, id int64) (models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules r WHERE r.id = $1`
	r, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.AlertRule{}, notFound(err, "alert rule", id)
	}
	return r, nil
}

// ActiveRulesForUnit returns the active rules evaluated on ingest for unitID.
func (s *PostgresConfig) ActiveRulesForUnit(ctx context.Context, unitID int64) ([]models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules r WHERE r.chiller_unit_id = $1 AND r.is_active ORDER BY r.id`
	return s.queryRules(ctx, query, unitID)
}

// ListAlertRules returns the organization's rules, optionally for one unit.
func (s *PostgresConfig) ListAlertRules(ctx context.Context, orgID int64, unitID *int64) ([]models.AlertRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM alert_rules r
		JOIN chiller_units u ON u.id = r.chiller_unit_id
		JOIN buildings b ON b.id = u.building_id
		WHERE b.organization_id = $1
	`
	args := []any{orgID}
	if unitID != nil {
		query += ` AND r.chiller_unit_id = $2`
		args = append(args, *unitID)
	}
	query += ` ORDER BY r.id`
	return s.queryRules(ctx, query, args...)
}

// CreateAlertRule inserts a validated rule.
func (s *PostgresConfig) CreateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error) {
	query := `
		INSERT INTO alert_rules AS r
			(chiller_unit_id, name, metric_key, condition_operator, threshold_value, severity, is_active, recipient_emails)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + ruleColumns
	created, err := scanRule(s.db.QueryRowContext(ctx, query,
		r.UnitID, r.Name, r.MetricKey, string(r.Operator), r.Threshold,
		string(r.Severity), r.IsActive, pq.Array(r.Recipients),
	))
	if err != nil {
		return models.AlertRule{}, constraintError(err, "create alert rule")
	}
	return created, nil
}

// UpdateAlertRule overwrites the mutable fields of an existing rule.
func (s *PostgresConfig) UpdateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error) {
	query := `
		UPDATE alert_rules AS r
		SET name = $2, metric_key = $3, condition_operator = $4, threshold_value = $5,
			severity = $6, is_active = $7, recipient_emails = $8, updated_at = NOW()
		WHERE r.id = $1
		RETURNING ` + ruleColumns
	updated, err := scanRule(s.db.QueryRowContext(ctx, query,
		r.ID, r.Name, r.MetricKey, string(r.Operator), r.Threshold,
		string(r.Severity), r.IsActive, pq.Array(r.Recipients),
	))
	if err == sql.ErrNoRows {
		return models.AlertRule{}, notFound(err, "alert rule", r.ID)
	}
	if err != nil {
		return models.AlertRule{}, constraintError(err, "update alert rule")
	}
	return updated, nil
}

// DeleteAlertRule removes a rule, then clears the rule id on the events it
// produced. alert_events may sit in another database, so there is no
// foreign key to do it.
func (s *PostgresConfig) DeleteAlertRule(ctx context.Context, id int64) error {
	if err := s.deleteByID(ctx, "alert_rules", "alert rule", id); err != nil {
		return err
	}
	if _, err := s.events.ExecContext(ctx,
		`UPDATE alert_events SET alert_rule_id = NULL WHERE alert_rule_id = $1`, id); err != nil {
		return fmt.Errorf("failed to detach events of alert rule %d: %w", id, err)
	}
	return nil
}

// ============================================================================
// Data sources
// ============================================================================

func scanDataSource(row rowScanner) (models.DataSource, error) {
	var ds models.DataSource
	var typ string
	var raw []byte
	if err := row.Scan(&ds.ID, &ds.UnitID, &typ, &raw, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return models.DataSource{}, err
	}
	ds.Type = models.DataSourceType(typ)
	params, err := models.ParseConnectionParams(ds.Type, raw)
	if err != nil {
		return models.DataSource{}, fmt.Errorf("stored connection params for data source %d: %w", ds.ID, err)
	}
	ds.Params = params
	return ds, nil
}

// GetDataSource retrieves a data source by ID.
func (s *PostgresConfig) GetDataSource(ctx context.Context, id int64) (models.DataSource, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM data_source_configs d WHERE d.id = $1`
	ds, err := scanDataSource(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.DataSource{}, notFound(err, "data source", id)
	}
	return ds, nil
}

// ListDataSources returns the organization's data sources, optionally for
// one unit.
func (s *PostgresConfig) ListDataSources(ctx context.Context, orgID int64, unitID *int64) ([]models.DataSource, error) {
	query := `
		SELECT ` + dataSourceColumns + `
		FROM data_source_configs d
		JOIN chiller_units u ON u.id = d.chiller_unit_id
		JOIN buildings b ON b.id = u.building_id
		WHERE b.organization_id = $1
	`
	args := []any{orgID}
	if unitID != nil {
		query += ` AND d.chiller_unit_id = $2`
		args = append(args, *unitID)
	}
	query += ` ORDER BY d.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	sources := []models.DataSource{}
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data sources: %w", err)
	}
	return sources, nil
}

// CreateDataSource inserts a validated data source.
func (s *PostgresConfig) CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error) {
	params, err := json.Marshal(ds.Params)
	if err != nil {
		return models.DataSource{}, fmt.Errorf("failed to encode connection params: %w", err)
	}
	query := `
		INSERT INTO data_source_configs AS d (chiller_unit_id, type, connection_params)
		VALUES ($1, $2, $3)
		RETURNING ` + dataSourceColumns
	created, err := scanDataSource(s.db.QueryRowContext(ctx, query, ds.UnitID, string(ds.Type), params))
	if err != nil {
		return models.DataSource{}, constraintError(err, "create data source")
	}
	return created, nil
}

// DeleteDataSource removes a data source.
func (s *PostgresConfig) DeleteDataSource(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "data_source_configs", "data source", id)
}

func (s *PostgresConfig) deleteByID(ctx context.Context, table, kind string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", kind, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrNotFound)
	}
	return nil
}

// Ping checks the connection.
func (s *PostgresConfig) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresConfig) Close() error {
	if s.db == nil {
		return nil
	}
	logger.WithComponent("storage").Info().Msg("closing config database")
	return s.db.Close()
}
