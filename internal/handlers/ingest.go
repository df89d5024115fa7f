package handlers

import (
	"context"
	"net/http"
	"strings"

	"chillerhub/internal/auth"
	"chillerhub/internal/ingest"
	"chillerhub/internal/models"
)

// Ingester stores a point and evaluates its alert rules.
type Ingester interface {
	Ingest(ctx context.Context, p auth.Principal, in models.TelemetryInput) (ingest.Result, error)
}

// IngestHandler handles telemetry ingestion via HTTP
type IngestHandler struct {
	svc Ingester
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(svc Ingester) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// ServeHTTP handles POST /api/v1/telemetry/ingest
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		writeStatus(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	principal, err := auth.RequirePrincipal(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var in models.TelemetryInput
	if err := decodeJSON(r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	res, err := h.svc.Ingest(r.Context(), principal, in)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
