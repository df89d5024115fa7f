package handlers

import (
	"net/http"

	"chillerhub/internal/analytics"
	"chillerhub/internal/auth"
)

// AnalyticsHandler serves the aggregation queries.
type AnalyticsHandler struct {
	svc *analytics.Service
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

func (h *AnalyticsHandler) query(w http.ResponseWriter, r *http.Request, def analytics.Granularity) (analytics.Query, bool) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return analytics.Query{}, false
	}
	q, err := analytics.ParseQuery(r.URL.Query(), p.OrganizationID, def)
	if err != nil {
		WriteError(w, r, err)
		return analytics.Query{}, false
	}
	return q, true
}

// PlantOverview handles GET /api/v1/analytics/plant-overview
func (h *AnalyticsHandler) PlantOverview(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, analytics.Day)
	if !ok {
		return
	}
	out, err := h.svc.PlantOverview(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ConsumptionEfficiency handles GET /api/v1/analytics/consumption-efficiency
func (h *AnalyticsHandler) ConsumptionEfficiency(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, analytics.Day)
	if !ok {
		return
	}
	series, err := h.svc.ConsumptionEfficiency(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": series})
}

// EquipmentMetrics handles GET /api/v1/analytics/equipment-metrics
func (h *AnalyticsHandler) EquipmentMetrics(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, analytics.Day)
	if !ok {
		return
	}
	units, err := h.svc.EquipmentMetrics(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}

// ChillerTrends handles GET /api/v1/analytics/chiller-trends
func (h *AnalyticsHandler) ChillerTrends(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r, analytics.Hour)
	if !ok {
		return
	}
	trends, err := h.svc.ChillerTrends(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chillers": trends})
}
