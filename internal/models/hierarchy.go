package models

import "time"

// Organization is the tenant boundary.
type Organization struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Building belongs to exactly one organization.
type Building struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	Location       string    `json:"location,omitempty"`
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Unit is a chiller installed in a building.
type Unit struct {
	ID           int64     `json:"id"`
	BuildingID   int64     `json:"building_id"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Model        string    `json:"model,omitempty"`
	CapacityTons *float64  `json:"capacity_tons,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Baseline is a reference value an organization compares live metrics
// against. It may be narrowed to a building or a unit.
type Baseline struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	BuildingID     *int64    `json:"building_id,omitempty"`
	UnitID         *int64    `json:"chiller_unit_id,omitempty"`
	Name           string    `json:"name"`
	MetricKey      string    `json:"metric_key"`
	Value          float64   `json:"value"`
	Unit           string    `json:"unit,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
