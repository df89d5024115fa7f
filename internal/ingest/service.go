// Package ingest stores telemetry points and runs alert evaluation on them.
package ingest

import (
	"context"
	"fmt"
	"time"

	"chillerhub/internal/alerts"
	"chillerhub/internal/auth"
	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
	"chillerhub/internal/storage"
	"chillerhub/internal/tenancy"
	"chillerhub/internal/worker"
)

// RuleSource returns the active rules of a unit.
type RuleSource interface {
	ActiveRulesForUnit(ctx context.Context, unitID int64) ([]models.AlertRule, error)
}

// Publisher forwards committed alerts to the message bus.
type Publisher interface {
	PublishBatch(ctx context.Context, envelopes []*models.AlertEnvelope) error
}

// Broadcaster pushes committed alerts to live subscribers.
type Broadcaster interface {
	PublishAlert(env *models.AlertEnvelope)
}

// Result is the stored point together with the alerts it triggered.
type Result struct {
	models.TelemetryPoint
	Alerts []models.AlertEvent `json:"alerts"`
}

// Config holds service dependencies. Publisher, Broadcaster and Queue are
// optional. When a Publisher is set, live subscribers are fed from the bus
// and the Broadcaster is not called directly.
type Config struct {
	Store          storage.TelemetryStore
	Guard          *tenancy.Guard
	Rules          RuleSource
	Engine         *alerts.Engine
	Publisher      Publisher
	Broadcaster    Broadcaster
	Queue          alerts.JobQueue
	NodeID         string
	PublishTimeout time.Duration
}

// Service is the ingestion pipeline.
type Service struct {
	cfg Config
}

// NewService creates an ingestion service.
func NewService(cfg Config) *Service {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Service{cfg: cfg}
}

// Ingest authorizes the point's unit for p, then commits the point and its
// alert events in one transaction. Once the unit is authorized the work is
// detached from ctx cancellation so a disconnecting client cannot leave a
// point without its evaluation.
func (s *Service) Ingest(ctx context.Context, p auth.Principal, in models.TelemetryInput) (Result, error) {
	start := time.Now()
	scope := "session"
	if p.Service {
		scope = "service"
	}

	point, err := in.Point()
	if err != nil {
		metrics.IngestPointsTotal.WithLabelValues(scope, "rejected").Inc()
		return Result{}, err
	}

	unit, err := s.cfg.Guard.Unit(ctx, point.UnitID, p.OrganizationID)
	if err != nil {
		metrics.IngestPointsTotal.WithLabelValues(scope, "rejected").Inc()
		return Result{}, err
	}
	point.OrganizationID = unit.OrganizationID()
	point.BuildingID = unit.Building.ID

	rules, err := s.cfg.Rules.ActiveRulesForUnit(ctx, point.UnitID)
	if err != nil {
		metrics.IngestPointsTotal.WithLabelValues(scope, "failed").Inc()
		return Result{}, fmt.Errorf("load rules for unit %d: %w", point.UnitID, err)
	}

	ctx = context.WithoutCancel(ctx)

	var (
		stored    models.TelemetryPoint
		triggered []alerts.Triggered
	)
	err = s.cfg.Store.WithinTx(ctx, func(tx storage.TxWriter) error {
		var err error
		stored, err = tx.InsertTelemetry(ctx, point)
		if err != nil {
			return fmt.Errorf("insert telemetry: %w", err)
		}
		triggered, err = s.cfg.Engine.Process(ctx, tx, stored, rules)
		return err
	})
	if err != nil {
		metrics.IngestPointsTotal.WithLabelValues(scope, "failed").Inc()
		return Result{}, err
	}

	metrics.IngestPointsTotal.WithLabelValues(scope, "stored").Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	s.cfg.Engine.Notify(ctx, triggered)
	s.fanOut(ctx, unit, triggered)

	res := Result{TelemetryPoint: stored, Alerts: make([]models.AlertEvent, len(triggered))}
	for i, t := range triggered {
		res.Alerts[i] = t.Event
	}

	logger.WithOrganization("ingest", point.OrganizationID).Debug().
		Int64("point_id", stored.ID).
		Int64("unit_id", stored.UnitID).
		Int("alerts", len(triggered)).
		Msg("telemetry stored")
	return res, nil
}

// fanOut hands committed alerts to the bus or directly to live subscribers.
func (s *Service) fanOut(ctx context.Context, unit tenancy.UnitScope, triggered []alerts.Triggered) {
	if len(triggered) == 0 || (s.cfg.Publisher == nil && s.cfg.Broadcaster == nil) {
		return
	}

	envelopes := make([]*models.AlertEnvelope, len(triggered))
	for i, t := range triggered {
		event := t.Event
		envelopes[i] = models.NewAlertEnvelope(&event, unit.OrganizationID(), unit.Building.ID, s.cfg.NodeID).
			WithRule(t.Rule.Name, t.Rule.Recipients)
	}

	if s.cfg.Publisher == nil {
		for _, env := range envelopes {
			s.cfg.Broadcaster.PublishAlert(env)
		}
		return
	}

	job := worker.Job{
		Name: "publish-alerts",
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
			defer cancel()
			if err := s.cfg.Publisher.PublishBatch(ctx, envelopes); err != nil {
				logger.WithOrganization("ingest", unit.OrganizationID()).Warn().
					Err(err).
					Int("alerts", len(envelopes)).
					Msg("alert publish failed")
				return err
			}
			return nil
		},
	}

	if s.cfg.Queue == nil {
		_ = job.Run(ctx)
		return
	}
	if err := s.cfg.Queue.Submit(job); err != nil {
		metrics.KafkaPublishTotal.WithLabelValues("dropped").Add(float64(len(envelopes)))
		logger.WithComponent("ingest").Warn().Err(err).Msg("alert publish dropped")
	}
}
