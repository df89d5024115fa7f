// Package analytics aggregates tenant telemetry into plant-wide and
// per-unit metrics.
package analytics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"chillerhub/internal/apperr"
	"chillerhub/internal/models"
)

// Conversion constants for cooling load in refrigeration tons.
const (
	btuPerHourFactor = 500.0
	btuPerTon        = 12000.0
)

// Business metric constants.
const (
	BaselineCOP   = 2.5
	SavingsPerRTH = 0.12
	CO2KgPerKWh   = 0.42
)

// CoolingLoad is flow*(inlet-outlet)*500/12000. ok is false when inlet
// equals outlet; such a point has no load term.
func CoolingLoad(p models.TelemetryPoint) (load float64, ok bool) {
	delta := p.DeltaT()
	if delta == 0 {
		return 0, false
	}
	return p.FlowRate * delta * btuPerHourFactor / btuPerTon, true
}

// Granularity is a bucket width.
type Granularity string

const (
	Minute Granularity = "minute"
	Hour   Granularity = "hour"
	Day    Granularity = "day"
	Month  Granularity = "month"
)

var ErrGranularity = fmt.Errorf("%w: granularity must be one of minute, hour, day, month", apperr.ErrInvalidInput)

// ParseGranularity parses s, returning def when s is empty.
func ParseGranularity(s string, def Granularity) (Granularity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	switch g := Granularity(s); g {
	case Minute, Hour, Day, Month:
		return g, nil
	}
	return "", ErrGranularity
}

// Truncate returns the UTC start of the bucket containing t.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Minute:
		return t.Truncate(time.Minute)
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Bucket is the running aggregate of a group of points.
type Bucket struct {
	Start  time.Time
	UnitID int64

	CoolingLoad float64
	PowerKW     float64
	Points      int

	copSum    float64
	inletSum  float64
	outletSum float64
}

// Add folds p into the bucket.
func (b *Bucket) Add(p models.TelemetryPoint) {
	if load, ok := CoolingLoad(p); ok {
		b.CoolingLoad += load
	}
	b.PowerKW += p.PowerKW
	b.copSum += p.COP
	b.inletSum += p.InletTemp
	b.outletSum += p.OutletTemp
	b.Points++
}

// AvgCOP is the mean COP of the bucket's points.
func (b *Bucket) AvgCOP() float64 { return b.mean(b.copSum) }

// AvgInlet is the mean entering water temperature.
func (b *Bucket) AvgInlet() float64 { return b.mean(b.inletSum) }

// AvgOutlet is the mean leaving water temperature.
func (b *Bucket) AvgOutlet() float64 { return b.mean(b.outletSum) }

func (b *Bucket) mean(sum float64) float64 {
	if b.Points == 0 {
		return 0
	}
	return sum / float64(b.Points)
}

// Efficiency is kW per ton of cooling, nil when the bucket has no load.
func (b *Bucket) Efficiency() *float64 {
	if b.CoolingLoad == 0 {
		return nil
	}
	v := b.PowerKW / b.CoolingLoad
	return &v
}

// round rounds v to places decimals, half away from zero.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, places)
	return &r
}
