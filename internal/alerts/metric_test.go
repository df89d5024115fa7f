package alerts

import (
	"testing"

	"chillerhub/internal/models"
)

func TestExtractMetric(t *testing.T) {
	p := models.TelemetryPoint{InletTemp: 12, OutletTemp: 7, PowerKW: 35, FlowRate: 10, COP: 4.5}

	tests := []struct {
		key    string
		want   float64
		wantOK bool
	}{
		{MetricPowerKW, 35, true},
		{MetricDeltaT, 5, true},
		{MetricCOP, 4.5, true},
		{MetricFlowRate, 10, true},
		{"unknown_metric", 0, false},
		{"inlet_temp", 0, false},
		{"", 0, false},
		{"POWER_KW", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := ExtractMetric(p, tt.key)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ExtractMetric(%q) = (%v, %v), want (%v, %v)", tt.key, got, ok, tt.want, tt.wantOK)
			}
			if KnownMetric(tt.key) != tt.wantOK {
				t.Errorf("KnownMetric(%q) disagrees with ExtractMetric", tt.key)
			}
		})
	}
}

func TestExtractMetric_NegativeDeltaT(t *testing.T) {
	p := models.TelemetryPoint{InletTemp: 6, OutletTemp: 8}
	if v, ok := ExtractMetric(p, MetricDeltaT); !ok || v != -2 {
		t.Errorf("delta_t = (%v, %v), want (-2, true)", v, ok)
	}
}
