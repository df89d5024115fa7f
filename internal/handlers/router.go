package handlers

import (
	"net/http"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chillerhub/internal/auth"
	"chillerhub/internal/middleware"
	"chillerhub/internal/tenancy"
)

// StreamServer upgrades a request to a live alert subscription.
type StreamServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, orgID int64)
}

// RouterConfig wires the API handlers. Stream, Health and Stats are
// optional.
type RouterConfig struct {
	Auth        *auth.Authenticator
	Ingest      *IngestHandler
	Analytics   *AnalyticsHandler
	Alerts      *AlertsHandler
	DataSources *DataSourcesHandler
	Resources   *ResourceHandler
	Stream      StreamServer

	Health http.Handler
	Stats  http.Handler

	MaxBodyBytes int64
	CORSOrigins  []string
}

// fallbacks installs the JSON 404 and 405 responses. Subrouters need their
// own; mux does not inherit them.
func fallbacks(r *mux.Router) {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	fallbacks(r)
	r.Use(middleware.RequestID, middleware.Logging, middleware.Recovery)

	if cfg.Health != nil {
		r.Handle("/health", cfg.Health).Methods(http.MethodGet)
	}
	if cfg.Stats != nil {
		r.Handle("/stats", cfg.Stats).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	authenticate := cfg.Auth.Middleware(WriteError)

	api := r.PathPrefix("/api/v1").Subrouter()
	fallbacks(api)
	api.Use(authenticate)
	if cfg.MaxBodyBytes > 0 {
		api.Use(middleware.MaxBody(cfg.MaxBodyBytes))
	}

	api.Handle("/telemetry/ingest", cfg.Ingest).Methods(http.MethodPost)

	api.HandleFunc("/analytics/plant-overview", cfg.Analytics.PlantOverview).Methods(http.MethodGet)
	api.HandleFunc("/analytics/consumption-efficiency", cfg.Analytics.ConsumptionEfficiency).Methods(http.MethodGet)
	api.HandleFunc("/analytics/equipment-metrics", cfg.Analytics.EquipmentMetrics).Methods(http.MethodGet)
	api.HandleFunc("/analytics/chiller-trends", cfg.Analytics.ChillerTrends).Methods(http.MethodGet)

	api.HandleFunc("/alerts", cfg.Alerts.Feed).Methods(http.MethodGet)
	api.HandleFunc("/alert-rules", cfg.Alerts.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/alert-rules", cfg.Alerts.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/alert-rules/{id}", cfg.Alerts.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/alert-rules/{id}", cfg.Alerts.UpdateRule).Methods(http.MethodPatch)
	api.HandleFunc("/alert-rules/{id}", cfg.Alerts.DeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/data-sources", cfg.DataSources.List).Methods(http.MethodGet)
	api.HandleFunc("/data-sources", cfg.DataSources.Create).Methods(http.MethodPost)
	api.HandleFunc("/data-sources/{id}", cfg.DataSources.Get).Methods(http.MethodGet)
	api.HandleFunc("/data-sources/{id}", cfg.DataSources.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/buildings/{id}", cfg.Resources.Get(tenancy.KindBuilding)).Methods(http.MethodGet)
	api.HandleFunc("/units/{id}", cfg.Resources.Get(tenancy.KindUnit)).Methods(http.MethodGet)
	api.HandleFunc("/baselines/{id}", cfg.Resources.Get(tenancy.KindBaseline)).Methods(http.MethodGet)

	if cfg.Stream != nil {
		ws := r.PathPrefix("/ws").Subrouter()
		fallbacks(ws)
		ws.Use(authenticate)
		ws.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
			p, err := auth.RequirePrincipal(r.Context())
			if err != nil {
				WriteError(w, r, err)
				return
			}
			cfg.Stream.ServeWS(w, r, p.OrganizationID)
		}).Methods(http.MethodGet)
	}

	if len(cfg.CORSOrigins) == 0 {
		return r
	}
	return ghandlers.CORS(
		ghandlers.AllowedOrigins(cfg.CORSOrigins),
		ghandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		ghandlers.AllowedHeaders([]string{"Authorization", "Content-Type", auth.ServiceTokenHeader, middleware.RequestIDHeader}),
		ghandlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
	)(r)
}
