package alerts

import "chillerhub/internal/models"

// Metric keys a rule may reference.
const (
	MetricPowerKW  = "power_kw"
	MetricDeltaT   = "delta_t"
	MetricCOP      = "cop"
	MetricFlowRate = "flow_rate"
)

var extractors = map[string]func(models.TelemetryPoint) float64{
	MetricPowerKW:  func(p models.TelemetryPoint) float64 { return p.PowerKW },
	MetricDeltaT:   func(p models.TelemetryPoint) float64 { return p.DeltaT() },
	MetricCOP:      func(p models.TelemetryPoint) float64 { return p.COP },
	MetricFlowRate: func(p models.TelemetryPoint) float64 { return p.FlowRate },
}

// ExtractMetric returns the named metric of p. ok is false for keys the
// extractor does not recognize.
func ExtractMetric(p models.TelemetryPoint, key string) (value float64, ok bool) {
	fn, ok := extractors[key]
	if !ok {
		return 0, false
	}
	return fn(p), true
}

// KnownMetric reports whether key can be extracted.
func KnownMetric(key string) bool {
	_, ok := extractors[key]
	return ok
}
