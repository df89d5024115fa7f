package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chillerhub/internal/alerts"
	"chillerhub/internal/apperr"
	"chillerhub/internal/auth"
	"chillerhub/internal/logger"
	"chillerhub/internal/models"
	"chillerhub/internal/tenancy"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

// AlertFeed lists persisted alert events.
type AlertFeed interface {
	ListAlertEvents(ctx context.Context, f models.AlertFilter) ([]models.AlertEvent, models.AlertSummary, error)
}

// RuleStore persists alert rules.
type RuleStore interface {
	ListAlertRules(ctx context.Context, orgID int64, unitID *int64) ([]models.AlertRule, error)
	CreateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error)
	UpdateAlertRule(ctx context.Context, r models.AlertRule) (models.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id int64) error
}

// RuleInvalidator drops cached rules of a unit after a write.
type RuleInvalidator interface {
	Invalidate(ctx context.Context, unitID int64)
}

// AlertsHandler serves the alert feed and rule management.
type AlertsHandler struct {
	feed  AlertFeed
	rules RuleStore
	guard *tenancy.Guard
	cache RuleInvalidator
}

// NewAlertsHandler creates an alerts handler. cache may be nil.
func NewAlertsHandler(feed AlertFeed, rules RuleStore, guard *tenancy.Guard, cache RuleInvalidator) *AlertsHandler {
	return &AlertsHandler{feed: feed, rules: rules, guard: guard, cache: cache}
}

// alertFeedResponse is the body of GET /api/v1/alerts.
type alertFeedResponse struct {
	Summary models.AlertSummary `json:"summary"`
	Alerts  []models.AlertEvent `json:"alerts"`
}

// Feed handles GET /api/v1/alerts
func (h *AlertsHandler) Feed(w http.ResponseWriter, r *http.Request) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	f, err := parseAlertFilter(r, p.OrganizationID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if f.UnitID != nil {
		if _, err := h.guard.Unit(r.Context(), *f.UnitID, p.OrganizationID); err != nil {
			WriteError(w, r, err)
			return
		}
	}

	events, summary, err := h.feed.ListAlertEvents(r.Context(), f)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alertFeedResponse{Summary: summary, Alerts: events})
}

func parseAlertFilter(r *http.Request, orgID int64) (models.AlertFilter, error) {
	q := r.URL.Query()
	f := models.AlertFilter{OrganizationID: orgID, Limit: defaultAlertLimit}

	if raw := q.Get("severity"); raw != "" {
		sev := models.Severity(strings.ToUpper(strings.TrimSpace(raw)))
		if !sev.Valid() {
			return f, models.ErrRuleSeverity
		}
		f.Severity = &sev
	}

	for _, tp := range []struct {
		name string
		dst  **time.Time
	}{{"start", &f.Start}, {"end", &f.End}} {
		raw := q.Get(tp.name)
		if raw == "" {
			continue
		}
		t, err := models.ParseTimestamp(raw)
		if err != nil {
			return f, fmt.Errorf("%s: %w", tp.name, err)
		}
		*tp.dst = &t
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return f, fmt.Errorf("%w: end is before start", apperr.ErrInvalidInput)
	}

	unitID, err := queryID(r, "chiller_unit_id", "unit_id")
	if err != nil {
		return f, err
	}
	f.UnitID = unitID

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxAlertLimit {
			return f, fmt.Errorf("%w: limit must be between 1 and %d", apperr.ErrInvalidInput, maxAlertLimit)
		}
		f.Limit = n
	}
	return f, nil
}

// ListRules handles GET /api/v1/alert-rules
func (h *AlertsHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	unitID, err := queryID(r, "chiller_unit_id", "unit_id")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if unitID != nil {
		if _, err := h.guard.Unit(r.Context(), *unitID, p.OrganizationID); err != nil {
			WriteError(w, r, err)
			return
		}
	}

	rules, err := h.rules.ListAlertRules(r.Context(), p.OrganizationID, unitID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

// CreateRule handles POST /api/v1/alert-rules
func (h *AlertsHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	rule := models.AlertRule{IsActive: true, Severity: models.SeverityWarning}
	if err := decodeJSON(r, &rule); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	rule.ID = 0
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		WriteError(w, r, err)
		return
	}
	if _, err := h.guard.Unit(r.Context(), rule.UnitID, p.OrganizationID); err != nil {
		WriteError(w, r, err)
		return
	}

	created, err := h.rules.CreateAlertRule(r.Context(), rule)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.afterWrite(r.Context(), p.OrganizationID, created)
	writeJSON(w, http.StatusCreated, created)
}

// GetRule handles GET /api/v1/alert-rules/{id}
func (h *AlertsHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, _, ok := h.resolveRule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PATCH /api/v1/alert-rules/{id}
func (h *AlertsHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, orgID, ok := h.resolveRule(w, r)
	if !ok {
		return
	}

	var patch models.AlertRulePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if err := patch.Apply(&rule); err != nil {
		WriteError(w, r, err)
		return
	}

	updated, err := h.rules.UpdateAlertRule(r.Context(), rule)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.afterWrite(r.Context(), orgID, updated)
	writeJSON(w, http.StatusOK, updated)
}

// DeleteRule handles DELETE /api/v1/alert-rules/{id}
func (h *AlertsHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	rule, _, ok := h.resolveRule(w, r)
	if !ok {
		return
	}
	if err := h.rules.DeleteAlertRule(r.Context(), rule.ID); err != nil {
		WriteError(w, r, err)
		return
	}
	h.invalidate(r.Context(), rule.UnitID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertsHandler) resolveRule(w http.ResponseWriter, r *http.Request) (models.AlertRule, int64, bool) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return models.AlertRule{}, 0, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return models.AlertRule{}, 0, false
	}
	rule, _, err := h.guard.AlertRule(r.Context(), id, p.OrganizationID)
	if err != nil {
		WriteError(w, r, err)
		return models.AlertRule{}, 0, false
	}
	return rule, p.OrganizationID, true
}

// afterWrite drops the unit's cached rules and warns about active rules on
// metrics the evaluator cannot read.
func (h *AlertsHandler) afterWrite(ctx context.Context, orgID int64, rule models.AlertRule) {
	h.invalidate(ctx, rule.UnitID)
	if rule.IsActive && !alerts.KnownMetric(rule.MetricKey) {
		logger.WithOrganization("alert_rules", orgID).Warn().
			Int64("rule_id", rule.ID).
			Str("metric_key", rule.MetricKey).
			Msg("active rule uses an unknown metric and will never fire")
	}
}

func (h *AlertsHandler) invalidate(ctx context.Context, unitID int64) {
	if h.cache != nil {
		h.cache.Invalidate(ctx, unitID)
	}
}
