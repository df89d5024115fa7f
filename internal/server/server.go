// Package server wires the stores, alert pipeline and HTTP surface into one
// process and runs it until shutdown.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"chillerhub/internal/alerts"
	"chillerhub/internal/analytics"
	"chillerhub/internal/auth"
	"chillerhub/internal/config"
	"chillerhub/internal/handlers"
	"chillerhub/internal/ingest"
	"chillerhub/internal/kafka"
	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/notify"
	"chillerhub/internal/state"
	"chillerhub/internal/storage"
	"chillerhub/internal/stream"
	"chillerhub/internal/tenancy"
	"chillerhub/internal/worker"
)

// Server is the high-level coordinator for ingestion, alerting and analytics.
type Server struct {
	cfg    *config.Config
	stores storage.Stores

	rules    *state.CachedRules
	pool     *worker.Pool
	hub      *stream.Hub
	producer *kafka.Producer
	consumer *kafka.AlertConsumer

	handler    http.Handler
	httpServer *http.Server
	wg         sync.WaitGroup

	statsInterval time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithRuleCache replaces the cache built from cfg.Redis.
func WithRuleCache(c state.RuleCache) Option {
	return func(s *Server) { s.rules = state.NewCachedRules(s.stores.Config, c) }
}

// WithStatsInterval sets how often pipeline stats are logged.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Server) { s.statsInterval = d }
}

// New builds a server over stores. The caller keeps ownership of cfg; the
// server closes stores on shutdown.
func New(ctx context.Context, cfg *config.Config, stores storage.Stores, opts ...Option) (*Server, error) {
	log := logger.WithComponent("server")
	s := &Server{cfg: cfg, stores: stores, statsInterval: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}

	serviceOrgID, err := s.serviceOrganization(ctx)
	if err != nil {
		return nil, err
	}

	var guardOpts []tenancy.Option
	if cfg.Auth.ForbiddenOnCrossTenant {
		guardOpts = append(guardOpts, tenancy.WithForbidden())
	}
	guard := tenancy.NewGuard(stores.Config, guardOpts...)

	if s.rules == nil {
		var cache state.RuleCache = state.NewNoopCache()
		if cfg.Redis.Enabled {
			cache = state.NewRedisRuleCache(state.RedisOptions{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				TTL:      cfg.Redis.RuleTTL,
			})
			log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.RuleTTL).Msg("redis rule cache enabled")
		}
		s.rules = state.NewCachedRules(stores.Config, cache)
	}

	notifier, registry, err := notify.NewFromOptions(ctx, notify.Options{
		Primary:   cfg.Notify.Primary,
		Fallback:  cfg.Notify.Fallback,
		From:      cfg.Notify.From,
		SESRegion: cfg.Notify.SESRegion,
		ResendKey: cfg.Notify.ResendAPIKey,
		SMTP: notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.SMTPUser,
			Password: cfg.Notify.SMTPPassword,
		},
		Retry: notify.RetryConfig{
			MaxRetries:     cfg.Notify.MaxRetries,
			InitialBackoff: cfg.Notify.InitialBackoff,
			MaxBackoff:     cfg.Notify.MaxBackoff,
			BackoffFactor:  2.0,
		},
	})
	if err != nil {
		s.rules.Close()
		return nil, fmt.Errorf("notifier: %w", err)
	}
	log.Info().Strs("providers", registry.List()).Str("primary", cfg.Notify.Primary).Msg("notifier initialized")

	s.pool = worker.NewPool(worker.Config{
		Workers:    cfg.Notify.Workers,
		QueueSize:  cfg.Notify.QueueSize,
		JobTimeout: 2 * cfg.Notify.Timeout,
	})
	metrics.DispatchQueueCapacity.Set(float64(cfg.Notify.QueueSize))

	s.hub = stream.NewHub()

	ingestCfg := ingest.Config{
		Store:       stores.Telemetry,
		Guard:       guard,
		Rules:       s.rules,
		Broadcaster: s.hub,
		Queue:       s.pool,
		NodeID:      cfg.NodeID,
		Engine: alerts.NewEngine(alerts.EngineConfig{
			Notifier:      notifier,
			Queue:         s.pool,
			NotifyTimeout: cfg.Notify.Timeout,
		}),
	}
	if cfg.Kafka.Enabled {
		if err := s.initKafka(); err != nil {
			s.rules.Close()
			return nil, err
		}
		ingestCfg.Publisher = s.producer
	}

	var sessions auth.SessionVerifier
	if cfg.Auth.JWTSecret != "" {
		sessions = auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	}

	s.handler = handlers.NewRouter(handlers.RouterConfig{
		Auth:         auth.NewAuthenticator(cfg.Auth.ServiceToken, serviceOrgID, sessions),
		Ingest:       handlers.NewIngestHandler(ingest.NewService(ingestCfg)),
		Analytics:    handlers.NewAnalyticsHandler(analytics.NewService(stores.Telemetry, guard, stores.Config, cfg.Analytics.QueryTimeout)),
		Alerts:       handlers.NewAlertsHandler(stores.Telemetry, stores.Config, guard, s.rules),
		DataSources:  handlers.NewDataSourcesHandler(stores.Config, guard),
		Resources:    handlers.NewResourceHandler(guard),
		Stream:       s.hub,
		Health:       http.HandlerFunc(s.healthHandler),
		Stats:        http.HandlerFunc(s.statsHandler),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
	})

	s.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return s, nil
}

// serviceOrganization resolves the organization the service token acts for.
func (s *Server) serviceOrganization(ctx context.Context) (int64, error) {
	if s.cfg.Auth.ServiceToken == "" {
		return 0, nil
	}
	id, err := s.stores.Config.OrganizationIDByName(ctx, s.cfg.Auth.ServiceOrganization)
	if err != nil {
		return 0, fmt.Errorf("resolve service organization %q: %w", s.cfg.Auth.ServiceOrganization, err)
	}
	return id, nil
}

// initKafka creates the alert producer and this node's stream consumer.
func (s *Server) initKafka() error {
	log := logger.WithComponent("server")
	k := s.cfg.Kafka

	producer, err := kafka.NewProducer(k.Brokers, k.Topic, k.Producer)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := kafka.NewAlertConsumer(kafka.ConsumerConfig{
		Brokers: k.Brokers,
		Topic:   k.Topic,
		GroupID: kafka.GroupID(k.GroupPrefix, s.cfg.NodeID),
	}, s.hub.PublishAlert)
	if err != nil {
		producer.Close()
		return fmt.Errorf("kafka consumer: %w", err)
	}

	s.producer, s.consumer = producer, consumer
	log.Info().
		Strs("brokers", k.Brokers).
		Str("topic", k.Topic).
		Msg("kafka producer and consumer initialized")
	return nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Addr)
	if err != nil {
		s.closeResources()
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the background workers and serves HTTP on ln until ctx is
// cancelled, then shuts everything down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logger.WithComponent("server")
	log.Info().Str("node_id", s.cfg.NodeID).Msg("server starting")

	// Background work outlives ctx until the HTTP server has drained.
	bg, stop := context.WithCancel(context.Background())
	defer stop()

	s.pool.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(bg)
	}()

	if s.consumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Run(bg); err != nil {
				log.Error().Err(err).Msg("alert consumer stopped")
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(bg)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			runErr = err
		}
	}

	s.shutdown(stop)
	return runErr
}

// shutdown performs graceful shutdown
func (s *Server) shutdown(stopBackground context.CancelFunc) {
	log := logger.WithComponent("server")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Disconnect live subscribers, stop consuming and reporting
	stopBackground()

	// 3. Drain queued notifications and publishes
	if s.pool.Stop(s.cfg.HTTP.ShutdownTimeout) {
		log.Info().Msg("workers stopped gracefully")
	} else {
		log.Warn().Msg("worker shutdown timeout - queued jobs abandoned")
	}

	// 4. Wait for background goroutines
	s.wg.Wait()

	// 5. Close external connections
	s.closeResources()
	log.Info().Msg("server stopped gracefully")
}

func (s *Server) closeResources() {
	log := logger.WithComponent("server")
	if s.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := s.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if s.consumer != nil {
		if err := s.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}
	if err := s.rules.Close(); err != nil {
		log.Error().Err(err).Msg("rule cache close error")
	}
	if err := s.stores.Close(); err != nil {
		log.Error().Err(err).Msg("store close error")
	}
}

// reportStats periodically logs statistics
func (s *Server) reportStats(ctx context.Context) {
	log := logger.WithComponent("server")
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.stats()
			metrics.DispatchQueueSize.Set(float64(st.Dispatch.Queued))

			event := log.Info().
				Uint64("dispatch_processed", st.Dispatch.Processed).
				Uint64("dispatch_failed", st.Dispatch.Failed).
				Uint64("dispatch_dropped", st.Dispatch.Dropped).
				Int("queue_size", st.Dispatch.Queued).
				Int("stream_clients", st.StreamClients)
			if st.Producer != nil {
				event = event.
					Uint64("producer_sent", st.Producer.MessagesSent).
					Uint64("producer_failed", st.Producer.MessagesFailed).
					Uint64("producer_bytes", st.Producer.BytesWritten)
			}
			event.Msg("stats")
		}
	}
}

// Stats is the body of GET /stats.
type Stats struct {
	NodeID        string               `json:"node_id"`
	Dispatch      worker.Stats         `json:"dispatch"`
	StreamClients int                  `json:"stream_clients"`
	Producer      *kafka.ProducerStats `json:"producer,omitempty"`
}

func (s *Server) stats() Stats {
	st := Stats{
		NodeID:        s.cfg.NodeID,
		Dispatch:      s.pool.Stats(),
		StreamClients: s.hub.Clients(),
	}
	if s.producer != nil {
		ps := s.producer.Stats()
		st.Producer = &ps
	}
	return st
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	check := func(name string, err error) {
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	check("telemetry_store", s.stores.Telemetry.Ping(ctx))
	check("config_store", s.stores.Config.Ping(ctx))
	if s.producer != nil {
		check("kafka", s.producer.HealthCheck(ctx))
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns current statistics
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.stats())
}
