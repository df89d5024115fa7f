package models_test

import (
	"errors"
	"testing"

	"chillerhub/internal/models"
)

func TestAlertRule_NormalizeValidate(t *testing.T) {
	r := &models.AlertRule{
		UnitID:     1,
		Name:       "  High power  ",
		MetricKey:  " Power_KW ",
		Operator:   "gt",
		Threshold:  40,
		Severity:   "critical",
		IsActive:   true,
		Recipients: []string{"Ops@Example.com"},
	}
	r.Normalize()

	if r.Name != "High power" || r.MetricKey != "power_kw" || r.Operator != models.OperatorGT ||
		r.Severity != models.SeverityCritical || r.Recipients[0] != "ops@example.com" {
		t.Fatalf("not normalized: %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}

func TestAlertRule_ValidateErrors(t *testing.T) {
	base := func() models.AlertRule {
		return models.AlertRule{
			UnitID: 1, Name: "r", MetricKey: "cop", Operator: models.OperatorLT,
			Threshold: 3, Severity: models.SeverityWarning,
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.AlertRule)
		want   error
	}{
		{"unit", func(r *models.AlertRule) { r.UnitID = 0 }, models.ErrRuleUnitID},
		{"name", func(r *models.AlertRule) { r.Name = "" }, models.ErrRuleName},
		{"metric", func(r *models.AlertRule) { r.MetricKey = "" }, models.ErrRuleMetricKey},
		{"operator", func(r *models.AlertRule) { r.Operator = "EQ" }, models.ErrRuleOperator},
		{"severity", func(r *models.AlertRule) { r.Severity = "PANIC" }, models.ErrRuleSeverity},
		{"recipient", func(r *models.AlertRule) { r.Recipients = []string{"not an address"} }, models.ErrRuleRecipient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(&r)
			if err := r.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAlertRule_UnknownMetricIsAccepted(t *testing.T) {
	r := models.AlertRule{
		UnitID: 1, Name: "r", MetricKey: "unknown_metric", Operator: models.OperatorGT,
		Severity: models.SeverityInfo,
	}
	if err := r.Validate(); err != nil {
		t.Errorf("free-form metric keys are stored as-is, got %v", err)
	}
}

func TestAlertRulePatch_Apply(t *testing.T) {
	r := models.AlertRule{
		UnitID: 1, Name: "r", MetricKey: "cop", Operator: models.OperatorLT,
		Threshold: 3, Severity: models.SeverityWarning, IsActive: true,
	}

	if err := (models.AlertRulePatch{}).Apply(&r); !errors.Is(err, models.ErrRuleEmptyPatch) {
		t.Fatalf("empty patch: got %v", err)
	}

	threshold := 2.5
	active := false
	op := models.Operator("lte")
	if err := (models.AlertRulePatch{Threshold: &threshold, IsActive: &active, Operator: &op}).Apply(&r); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if r.Threshold != 2.5 || r.IsActive || r.Operator != models.OperatorLTE {
		t.Errorf("patch not applied: %+v", r)
	}

	bad := models.Severity("LOUD")
	if err := (models.AlertRulePatch{Severity: &bad}).Apply(&r); !errors.Is(err, models.ErrRuleSeverity) {
		t.Errorf("invalid severity should fail, got %v", err)
	}
}

func TestNewAlertSummary(t *testing.T) {
	s := models.NewAlertSummary()
	if s.Total != 0 || len(s.BySeverity) != 3 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	for _, sev := range models.Severities {
		if v, ok := s.BySeverity[string(sev)]; !ok || v != 0 {
			t.Errorf("severity %s missing", sev)
		}
	}
}
