package models

import (
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"chillerhub/internal/apperr"
)

// Operator is the comparison an alert rule applies.
type Operator string

const (
	OperatorGT  Operator = "GT"
	OperatorLT  Operator = "LT"
	OperatorGTE Operator = "GTE"
	OperatorLTE Operator = "LTE"
)

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGT, OperatorLT, OperatorGTE, OperatorLTE:
		return true
	}
	return false
}

// Severity levels for alert rules and the events they produce.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every level in ascending order.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// AlertRule is a threshold condition on one metric of one unit.
type AlertRule struct {
	ID         int64     `json:"id"`
	UnitID     int64     `json:"chiller_unit_id"`
	Name       string    `json:"name"`
	MetricKey  string    `json:"metric_key"`
	Operator   Operator  `json:"condition_operator"`
	Threshold  float64   `json:"threshold_value"`
	Severity   Severity  `json:"severity"`
	IsActive   bool      `json:"is_active"`
	Recipients []string  `json:"recipient_emails"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Rule validation errors
var (
	ErrRuleName       = fmt.Errorf("%w: rule name is required", apperr.ErrInvalidInput)
	ErrRuleMetricKey  = fmt.Errorf("%w: metric_key is required", apperr.ErrInvalidInput)
	ErrRuleOperator   = fmt.Errorf("%w: condition_operator must be one of GT, LT, GTE, LTE", apperr.ErrInvalidInput)
	ErrRuleSeverity   = fmt.Errorf("%w: severity must be one of INFO, WARNING, CRITICAL", apperr.ErrInvalidInput)
	ErrRuleThreshold  = fmt.Errorf("%w: threshold_value must be a finite number", apperr.ErrInvalidInput)
	ErrRuleRecipient  = fmt.Errorf("%w: invalid recipient address", apperr.ErrInvalidInput)
	ErrRuleUnitID     = fmt.Errorf("%w: chiller_unit_id is required", apperr.ErrInvalidInput)
	ErrRuleEmptyPatch = fmt.Errorf("%w: no fields to update", apperr.ErrInvalidInput)
)

// Normalize trims free-form fields and canonicalizes enumerations.
func (r *AlertRule) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.MetricKey = strings.ToLower(strings.TrimSpace(r.MetricKey))
	r.Operator = Operator(strings.ToUpper(strings.TrimSpace(string(r.Operator))))
	r.Severity = Severity(strings.ToUpper(strings.TrimSpace(string(r.Severity))))
	r.Recipients = NormalizeRecipients(r.Recipients)
}

// Validate checks a rule before it is written. The metric key is free-form;
// rules on metrics the evaluator does not know are stored but never fire.
func (r *AlertRule) Validate() error {
	if r.UnitID <= 0 {
		return ErrRuleUnitID
	}
	if r.Name == "" {
		return ErrRuleName
	}
	if r.MetricKey == "" {
		return ErrRuleMetricKey
	}
	if !r.Operator.Valid() {
		return ErrRuleOperator
	}
	if !r.Severity.Valid() {
		return ErrRuleSeverity
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return ErrRuleThreshold
	}
	for _, addr := range r.Recipients {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("%q: %w", addr, ErrRuleRecipient)
		}
	}
	return nil
}

// AlertRulePatch carries the fields of a partial rule update.
type AlertRulePatch struct {
	Name       *string   `json:"name"`
	MetricKey  *string   `json:"metric_key"`
	Operator   *Operator `json:"condition_operator"`
	Threshold  *float64  `json:"threshold_value"`
	Severity   *Severity `json:"severity"`
	IsActive   *bool     `json:"is_active"`
	Recipients *[]string `json:"recipient_emails"`
}

// Apply copies the set fields onto r and re-validates it.
func (p AlertRulePatch) Apply(r *AlertRule) error {
	if p.Name == nil && p.MetricKey == nil && p.Operator == nil && p.Threshold == nil &&
		p.Severity == nil && p.IsActive == nil && p.Recipients == nil {
		return ErrRuleEmptyPatch
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.MetricKey != nil {
		r.MetricKey = *p.MetricKey
	}
	if p.Operator != nil {
		r.Operator = *p.Operator
	}
	if p.Threshold != nil {
		r.Threshold = *p.Threshold
	}
	if p.Severity != nil {
		r.Severity = *p.Severity
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.Recipients != nil {
		r.Recipients = *p.Recipients
	}
	r.Normalize()
	return r.Validate()
}

// AlertEvent records one rule firing for one telemetry point. Rule and unit
// references survive deletion of their targets as nulls; the organization is
// copied from the point so the event stays scoped after that.
type AlertEvent struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	RuleID         *int64    `json:"alert_rule_id"`
	UnitID         *int64    `json:"chiller_unit_id"`
	Severity       Severity  `json:"severity"`
	MetricKey      string    `json:"metric_key"`
	MetricValue    float64   `json:"metric_value"`
	Message        string    `json:"message"`
	TriggeredAt    time.Time `json:"triggered_at"`
	Acknowledged   bool      `json:"acknowledged"`
}

// AlertFilter narrows the alert feed.
type AlertFilter struct {
	OrganizationID int64
	UnitID         *int64
	Severity       *Severity
	Start          *time.Time
	End            *time.Time
	Limit          int
}

// AlertSummary counts the events matched by an AlertFilter.
type AlertSummary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity"`
}

// NewAlertSummary returns a summary with every severity present at zero.
func NewAlertSummary() AlertSummary {
	by := make(map[string]int, len(Severities))
	for _, s := range Severities {
		by[string(s)] = 0
	}
	return AlertSummary{BySeverity: by}
}
