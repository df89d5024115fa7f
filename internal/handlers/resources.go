package handlers

import (
	"net/http"

	"chillerhub/internal/auth"
	"chillerhub/internal/tenancy"
)

// ResourceHandler serves read-only lookups of tenant resources.
type ResourceHandler struct {
	guard *tenancy.Guard
}

// NewResourceHandler creates a resource handler.
func NewResourceHandler(guard *tenancy.Guard) *ResourceHandler {
	return &ResourceHandler{guard: guard}
}

// Get returns a handler for GET /api/v1/<kind>/{id}.
func (h *ResourceHandler) Get(kind tenancy.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.RequirePrincipal(r.Context())
		if err != nil {
			WriteError(w, r, err)
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			WriteError(w, r, err)
			return
		}
		res, err := h.guard.Resolve(r.Context(), tenancy.Ref{Kind: kind, ID: id}, p.OrganizationID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res.Value)
	}
}
