package alerts

import (
	"context"
	"fmt"
	"time"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
	"chillerhub/internal/models"
	"chillerhub/internal/worker"
)

// EventWriter persists alert events. Implementations write inside the
// transaction that stores the triggering point.
type EventWriter interface {
	InsertAlertEvents(ctx context.Context, events []models.AlertEvent) ([]models.AlertEvent, error)
}

// Notifier delivers an alert to its recipients.
type Notifier interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// JobQueue accepts background jobs without blocking.
type JobQueue interface {
	Submit(job worker.Job) error
}

// Triggered pairs a fired rule with the event it produced.
type Triggered struct {
	Rule  models.AlertRule
	Event models.AlertEvent
}

// Engine evaluates rules against telemetry points.
type Engine struct {
	notifier      Notifier
	queue         JobQueue
	notifyTimeout time.Duration
	now           func() time.Time
}

// EngineConfig holds engine dependencies. A nil Queue sends notifications
// inline; a nil Notifier disables them.
type EngineConfig struct {
	Notifier      Notifier
	Queue         JobQueue
	NotifyTimeout time.Duration
	Clock         func() time.Time
}

// NewEngine creates an alert engine
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Engine{
		notifier:      cfg.Notifier,
		queue:         cfg.Queue,
		notifyTimeout: cfg.NotifyTimeout,
		now:           cfg.Clock,
	}
}

// FormatMessage renders the event text for a rule that fired on actual.
func FormatMessage(rule models.AlertRule, actual float64) string {
	return fmt.Sprintf("%s: %s %.2f %s %.2f", rule.Name, rule.MetricKey, actual, rule.Operator, rule.Threshold)
}

// Subject is the notification subject line for rule.
func Subject(rule models.AlertRule) string {
	return "Chiller Alert: " + rule.Name
}

// Evaluate stages one event per active rule of the point's unit whose
// condition holds. Rules on unknown metrics are skipped.
func (e *Engine) Evaluate(point models.TelemetryPoint, rules []models.AlertRule) []Triggered {
	log := logger.WithComponent("alert_engine")
	triggeredAt := e.now().UTC()

	var staged []Triggered
	for _, rule := range rules {
		if !rule.IsActive || rule.UnitID != point.UnitID {
			continue
		}

		actual, ok := ExtractMetric(point, rule.MetricKey)
		if !ok {
			metrics.AlertRulesSkippedTotal.WithLabelValues("unknown_metric").Inc()
			log.Debug().
				Int64("rule_id", rule.ID).
				Str("metric_key", rule.MetricKey).
				Msg("rule references unknown metric, skipping")
			continue
		}

		if !Evaluate(rule.Operator, actual, rule.Threshold) {
			continue
		}

		ruleID, unitID := rule.ID, point.UnitID
		staged = append(staged, Triggered{
			Rule: rule,
			Event: models.AlertEvent{
				OrganizationID: point.OrganizationID,
				RuleID:         &ruleID,
				UnitID:         &unitID,
				Severity:       rule.Severity,
				MetricKey:      rule.MetricKey,
				MetricValue:    actual,
				Message:        FormatMessage(rule, actual),
				TriggeredAt:    triggeredAt,
			},
		})
	}
	return staged
}

// Process evaluates the rules and persists every staged event through w.
// The caller owns the transaction behind w; an error means nothing staged
// here may be committed.
func (e *Engine) Process(ctx context.Context, w EventWriter, point models.TelemetryPoint, rules []models.AlertRule) ([]Triggered, error) {
	staged := e.Evaluate(point, rules)
	if len(staged) == 0 {
		return nil, nil
	}

	events := make([]models.AlertEvent, len(staged))
	for i, t := range staged {
		events[i] = t.Event
	}

	stored, err := w.InsertAlertEvents(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("persist alert events: %w", err)
	}
	if len(stored) != len(staged) {
		return nil, fmt.Errorf("persist alert events: stored %d of %d", len(stored), len(staged))
	}

	for i := range staged {
		staged[i].Event = stored[i]
	}
	return staged, nil
}

// Notify records committed events and dispatches notifications for rules
// with recipients. Delivery failures are logged and counted, never returned.
func (e *Engine) Notify(ctx context.Context, triggered []Triggered) {
	log := logger.WithComponent("alert_engine")

	for _, t := range triggered {
		metrics.AlertsTriggeredTotal.WithLabelValues(string(t.Event.Severity)).Inc()

		if len(t.Rule.Recipients) == 0 || e.notifier == nil {
			continue
		}

		job := e.notificationJob(t)

		if e.queue == nil {
			_ = job.Run(ctx)
			continue
		}

		if err := e.queue.Submit(job); err != nil {
			metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
			log.Warn().
				Err(err).
				Int64("rule_id", t.Rule.ID).
				Int64("event_id", t.Event.ID).
				Msg("alert notification dropped")
		}
	}
}

func (e *Engine) notificationJob(t Triggered) worker.Job {
	recipients := append([]string(nil), t.Rule.Recipients...)
	subject := Subject(t.Rule)
	body := t.Event.Message
	ruleID, eventID := t.Rule.ID, t.Event.ID

	return worker.Job{
		Name: fmt.Sprintf("notify-rule-%d", ruleID),
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
			defer cancel()

			log := logger.WithComponent("alert_engine")
			if err := e.notifier.Send(ctx, recipients, subject, body); err != nil {
				metrics.NotificationsTotal.WithLabelValues("failed").Inc()
				log.Warn().
					Err(err).
					Int64("rule_id", ruleID).
					Int64("event_id", eventID).
					Int("recipients", len(recipients)).
					Msg("alert notification failed")
				return err
			}

			metrics.NotificationsTotal.WithLabelValues("sent").Inc()
			log.Info().
				Int64("rule_id", ruleID).
				Int64("event_id", eventID).
				Int("recipients", len(recipients)).
				Msg("alert notification sent")
			return nil
		},
	}
}
