package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chillerhub/internal/apperr"
	"chillerhub/internal/models"
)

// Memory implements both stores in process. It backs the "memory" storage
// driver and tests; nothing survives a restart.
type Memory struct {
	mu sync.RWMutex

	nextID      int64
	orgs        map[int64]models.Organization
	buildings   map[int64]models.Building
	units       map[int64]models.Unit
	rules       map[int64]models.AlertRule
	dataSources map[int64]models.DataSource
	baselines   map[int64]models.Baseline
	telemetry   []models.TelemetryPoint
	events      []models.AlertEvent

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orgs:        make(map[int64]models.Organization),
		buildings:   make(map[int64]models.Building),
		units:       make(map[int64]models.Unit),
		rules:       make(map[int64]models.AlertRule),
		dataSources: make(map[int64]models.DataSource),
		baselines:   make(map[int64]models.Baseline),
		now:         time.Now,
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

// AddOrganization seeds an organization and returns it with its id.
func (m *Memory) AddOrganization(o models.Organization) models.Organization {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		o.ID = m.id()
	}
	m.orgs[o.ID] = o
	return o
}

// AddBuilding seeds a building.
func (m *Memory) AddBuilding(b models.Building) models.Building {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.id()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now().UTC()
	}
	m.buildings[b.ID] = b
	return b
}

// AddUnit seeds a chiller unit.
func (m *Memory) AddUnit(u models.Unit) models.Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	m.units[u.ID] = u
	return u
}

// AddBaseline seeds a baseline value.
func (m *Memory) AddBaseline(b models.Baseline) models.Baseline {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.id()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now().UTC()
	}
	m.baselines[b.ID] = b
	return b
}

// ---------------------------------------------------------------------------
// TelemetryStore
// ---------------------------------------------------------------------------

// memTx stages writes until the transaction function succeeds.
type memTx struct {
	points []models.TelemetryPoint
	events []models.AlertEvent
	m      *Memory
}

func (t *memTx) InsertTelemetry(ctx context.Context, p models.TelemetryPoint) (models.TelemetryPoint, error) {
	if err := ctx.Err(); err != nil {
		return models.TelemetryPoint{}, err
	}
	p.ID = t.m.id()
	p.CreatedAt = t.m.now().UTC()
	t.points = append(t.points, p)
	return p, nil
}

func (t *memTx) InsertAlertEvents(ctx context.Context, events []models.AlertEvent) ([]models.AlertEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.AlertEvent, len(events))
	for i, e := range events {
		e.ID = t.m.id()
		if e.TriggeredAt.IsZero() {
			e.TriggeredAt = t.m.now().UTC()
		}
		t.events = append(t.events, e)
		out[i] = e
	}
	return out, nil
}

// WithinTx holds the write lock for the duration of fn and applies the
// staged writes only when fn succeeds.
func (m *Memory) WithinTx(ctx context.Context, fn func(TxWriter) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.telemetry = append(m.telemetry, tx.points...)
	m.events = append(m.events, tx.events...)
	return nil
}

// ScanTelemetry streams matching points ordered by timestamp and unit.
func (m *Memory) ScanTelemetry(ctx context.Context, f TelemetryFilter, fn func(models.TelemetryPoint) error) error {
	m.mu.RLock()
	var matched []models.TelemetryPoint
	for _, p := range m.telemetry {
		if f.Match(p) {
			matched = append(matched, p)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].UnitID < matched[j].UnitID
	})

	for _, p := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// ListAlertEvents returns the organization's events newest first.
func (m *Memory) ListAlertEvents(ctx context.Context, f models.AlertFilter) ([]models.AlertEvent, models.AlertSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := models.NewAlertSummary()
	events := []models.AlertEvent{}
	for _, e := range m.events {
		if e.OrganizationID != f.OrganizationID {
			continue
		}
		if f.UnitID != nil && (e.UnitID == nil || *e.UnitID != *f.UnitID) {
			continue
		}
		if f.Severity != nil && e.Severity != *f.Severity {
			continue
		}
		if f.Start != nil && e.TriggeredAt.Before(*f.Start) {
			continue
		}
		if f.End != nil && e.TriggeredAt.After(*f.End) {
			continue
		}
		summary.Total++
		summary.BySeverity[string(e.Severity)]++
		events = append(events, e)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].TriggeredAt.Equal(events[j].TriggeredAt) {
			return events[i].TriggeredAt.After(events[j].TriggeredAt)
		}
		return events[i].ID > events[j].ID
	})
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events, summary, nil
}

// ---------------------------------------------------------------------------
// ConfigStore
// ---------------------------------------------------------------------------

func missing(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, apperr.ErrNotFound)
}

func (m *Memory) GetBuilding(ctx context.Context, id int64) (models.Building, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buildings[id]
	if !ok {
		return models.Building{}, missing("building", id)
	}
	return b, nil
}

func (m *Memory) GetUnit(ctx context.Context, id int64) (models.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return models.Unit{}, missing("unit", id)
	}
	return u, nil
}

func (m *Memory) GetDataSource(ctx context.Context, id int64) (models.DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.dataSources[id]
	if !ok {
		return models.DataSource{}, missing("data source", id)
	}
	return ds, nil
}

func (m *Memory) GetAlertRule(ctx context.Context, id int64) (models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return models.AlertRule{}, missing("alert rule", id)
	}
	return cloneRule(r), nil
}

func (m *Memory) GetBaseline(ctx context.Context, id int64) (models.Baseline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.baselines[id]
	if !ok {
		return models.Baseline{}, missing("baseline", id)
	}
	return b, nil
}

func (m *Memory) OrganizationIDByName(ctx context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orgs {
		if o.Name == name {
			return o.ID, nil
		}
	}
	return 0, fmt.Errorf("organization %q: %w", name, apperr.ErrNotFound)
}

// unitOrg returns the organization of a unit, or 0 when the chain is broken.
// Callers hold the lock.
func (m *Memory) unitOrg(unitID int64) int64 {
	u, ok := m.units[unitID]
	if !ok {
		return 0
	}
	return m.buildings[u.BuildingID].OrganizationID
}

func (m *Memory) UnitNames(ctx context.Context, orgID int64) (map[int64]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make(map[int64]string)
	for id, u := range m.units {
		if m.unitOrg(id) == orgID {
			names[id] = u.Name
		}
	}
	return names, nil
}

func (m *Memory) ActiveRulesForUnit(ctx context.Context, unitID int64) ([]models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := []models.AlertRule{}
	for _, r := range m.rules {
		if r.UnitID == unitID && r.IsActive {
			rules = append(rules, cloneRule(r))
		}
	}
	sortRules(rules)
	return rules, nil
}

func (m *Memory) ListAlertRules(ctx context.Context, orgID int64, unitID *int64) ([]models.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rules := []models.AlertRule{}
	for _, r := range m.rules {
		if m.unitOrg(r.UnitID) != orgID || (unitID != nil && r.UnitID != *unitID) {
			continue
		}
		rules = append(rules, cloneRule(r))
	}
	sortRules(rules)
	return rules, nil
}

func (m *Memory) CreateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[r.UnitID]; !ok {
		return models.AlertRule{}, fmt.Errorf("create alert rule: referenced record does not exist: %w", apperr.ErrInvalidInput)
	}
	r.ID = m.id()
	r.CreatedAt = m.now().UTC()
	r.UpdatedAt = r.CreatedAt
	r = cloneRule(r)
	m.rules[r.ID] = r
	return cloneRule(r), nil
}

func (m *Memory) UpdateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rules[r.ID]
	if !ok {
		return models.AlertRule{}, missing("alert rule", r.ID)
	}
	r.UnitID = existing.UnitID
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = m.now().UTC()
	r = cloneRule(r)
	m.rules[r.ID] = r
	return cloneRule(r), nil
}

func (m *Memory) DeleteAlertRule(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return missing("alert rule", id)
	}
	delete(m.rules, id)
	for i := range m.events {
		if e := &m.events[i]; e.RuleID != nil && *e.RuleID == id {
			e.RuleID = nil
		}
	}
	return nil
}

func (m *Memory) ListDataSources(ctx context.Context, orgID int64, unitID *int64) ([]models.DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sources := []models.DataSource{}
	for _, ds := range m.dataSources {
		if m.unitOrg(ds.UnitID) != orgID || (unitID != nil && ds.UnitID != *unitID) {
			continue
		}
		sources = append(sources, ds)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })
	return sources, nil
}

func (m *Memory) CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.units[ds.UnitID]; !ok {
		return models.DataSource{}, fmt.Errorf("create data source: referenced record does not exist: %w", apperr.ErrInvalidInput)
	}
	ds.ID = m.id()
	ds.CreatedAt = m.now().UTC()
	ds.UpdatedAt = ds.CreatedAt
	m.dataSources[ds.ID] = ds
	return ds, nil
}

func (m *Memory) DeleteDataSource(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dataSources[id]; !ok {
		return missing("data source", id)
	}
	delete(m.dataSources, id)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }

func cloneRule(r models.AlertRule) models.AlertRule {
	r.Recipients = append([]string{}, r.Recipients...)
	return r
}

func sortRules(rules []models.AlertRule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}
