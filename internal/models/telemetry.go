package models

import (
	"errors"
	"fmt"
	"math"
	"time"

	"chillerhub/internal/apperr"
)

// TelemetryPoint is one stored reading for a chiller unit. Organization and
// building ids are copied from the unit at ingest time.
type TelemetryPoint struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	BuildingID     int64     `json:"building_id"`
	UnitID         int64     `json:"unit_id"`
	Timestamp      time.Time `json:"timestamp"`
	InletTemp      float64   `json:"inlet_temp"`
	OutletTemp     float64   `json:"outlet_temp"`
	PowerKW        float64   `json:"power_kw"`
	FlowRate       float64   `json:"flow_rate"`
	COP            float64   `json:"cop"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// DeltaT is the temperature drop across the evaporator.
func (p TelemetryPoint) DeltaT() float64 {
	return p.InletTemp - p.OutletTemp
}

// TelemetryInput is the ingest payload. Numeric fields are pointers so that a
// missing field is distinguishable from zero.
type TelemetryInput struct {
	UnitID     int64    `json:"unit_id"`
	Timestamp  string   `json:"timestamp"`
	InletTemp  *float64 `json:"inlet_temp"`
	OutletTemp *float64 `json:"outlet_temp"`
	PowerKW    *float64 `json:"power_kw"`
	FlowRate   *float64 `json:"flow_rate"`
	COP        *float64 `json:"cop"`
}

// Validation errors
var (
	ErrMissingUnitID    = fmt.Errorf("%w: unit_id is required", apperr.ErrInvalidInput)
	ErrZeroTimestamp    = fmt.Errorf("%w: timestamp cannot be zero", apperr.ErrInvalidInput)
	ErrInvalidTimestamp = fmt.Errorf("%w: invalid timestamp format", apperr.ErrInvalidInput)
	ErrMissingReading   = fmt.Errorf("%w: reading is required", apperr.ErrInvalidInput)
	ErrNonFiniteReading = fmt.Errorf("%w: reading must be a finite number", apperr.ErrInvalidInput)
)

// Point converts the input into an unattributed TelemetryPoint.
func (in TelemetryInput) Point() (TelemetryPoint, error) {
	if in.UnitID <= 0 {
		return TelemetryPoint{}, ErrMissingUnitID
	}

	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return TelemetryPoint{}, err
	}

	readings := []struct {
		name  string
		value *float64
	}{
		{"inlet_temp", in.InletTemp},
		{"outlet_temp", in.OutletTemp},
		{"power_kw", in.PowerKW},
		{"flow_rate", in.FlowRate},
		{"cop", in.COP},
	}
	for _, r := range readings {
		if r.value == nil {
			return TelemetryPoint{}, fmt.Errorf("%s: %w", r.name, ErrMissingReading)
		}
		if math.IsNaN(*r.value) || math.IsInf(*r.value, 0) {
			return TelemetryPoint{}, fmt.Errorf("%s: %w", r.name, ErrNonFiniteReading)
		}
	}

	return TelemetryPoint{
		UnitID:     in.UnitID,
		Timestamp:  ts,
		InletTemp:  *in.InletTemp,
		OutletTemp: *in.OutletTemp,
		PowerKW:    *in.PowerKW,
		FlowRate:   *in.FlowRate,
		COP:        *in.COP,
	}, nil
}

// Validate checks a point assembled outside of TelemetryInput.
func (p TelemetryPoint) Validate() error {
	if p.UnitID <= 0 {
		return ErrMissingUnitID
	}
	if p.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	for _, v := range []float64{p.InletTemp, p.OutletTemp, p.PowerKW, p.FlowRate, p.COP} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteReading
		}
	}
	return nil
}

// IsValidationError reports whether err came from input validation.
func IsValidationError(err error) bool {
	return errors.Is(err, apperr.ErrInvalidInput)
}
