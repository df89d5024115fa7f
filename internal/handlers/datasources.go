package handlers

import (
	"context"
	"net/http"

	"chillerhub/internal/auth"
	"chillerhub/internal/models"
	"chillerhub/internal/tenancy"
)

// DataSourceStore persists data source configurations.
type DataSourceStore interface {
	ListDataSources(ctx context.Context, orgID int64, unitID *int64) ([]models.DataSource, error)
	CreateDataSource(ctx context.Context, ds models.DataSource) (models.DataSource, error)
	DeleteDataSource(ctx context.Context, id int64) error
}

// DataSourcesHandler manages per-unit data source configurations.
// Credentials are never returned.
type DataSourcesHandler struct {
	store DataSourceStore
	guard *tenancy.Guard
}

// NewDataSourcesHandler creates a data sources handler.
func NewDataSourcesHandler(store DataSourceStore, guard *tenancy.Guard) *DataSourcesHandler {
	return &DataSourcesHandler{store: store, guard: guard}
}

// List handles GET /api/v1/data-sources
func (h *DataSourcesHandler) List(w http.ResponseWriter, r *http.Request) {
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

	sources, err := h.store.ListDataSources(r.Context(), p.OrganizationID, unitID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := make([]models.DataSource, len(sources))
	for i, ds := range sources {
		out[i] = ds.Redacted()
	}
	writeJSON(w, http.StatusOK, out)
}

// Create handles POST /api/v1/data-sources
func (h *DataSourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var ds models.DataSource
	if err := decodeJSON(r, &ds); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if _, err := h.guard.Unit(r.Context(), ds.UnitID, p.OrganizationID); err != nil {
		WriteError(w, r, err)
		return
	}

	created, err := h.store.CreateDataSource(r.Context(), ds)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created.Redacted())
}

// Get handles GET /api/v1/data-sources/{id}
func (h *DataSourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ds.Redacted())
}

// Delete handles DELETE /api/v1/data-sources/{id}
func (h *DataSourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteDataSource(r.Context(), ds.ID); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DataSourcesHandler) resolve(w http.ResponseWriter, r *http.Request) (models.DataSource, bool) {
	p, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return models.DataSource{}, false
	}
	id, err := pathID(r, "id")
	if err != nil {
		WriteError(w, r, err)
		return models.DataSource{}, false
	}
	ds, _, err := h.guard.DataSource(r.Context(), id, p.OrganizationID)
	if err != nil {
		WriteError(w, r, err)
		return models.DataSource{}, false
	}
	return ds, true
}
