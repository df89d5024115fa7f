package storage

import (
	"context"

	"chillerhub/internal/models"
)

// SeedDemo gives an empty in-memory store one organization named orgName
// with a building, two chillers, a COP baseline and a power alert rule, so a
// fresh process can accept telemetry straight away. It returns the
// organization.
func (m *Memory) SeedDemo(ctx context.Context, orgName string) (models.Organization, error) {
	if id, err := m.OrganizationIDByName(ctx, orgName); err == nil {
		return models.Organization{ID: id, Name: orgName}, nil
	}

	org := m.AddOrganization(models.Organization{Name: orgName})
	plant := m.AddBuilding(models.Building{OrganizationID: org.ID, Name: "Central Plant", Location: "Basement B2"})

	capacity := 500.0
	var first models.Unit
	for i, name := range []string{"CH-1", "CH-2"} {
		u := m.AddUnit(models.Unit{
			BuildingID:   plant.ID,
			Name:         name,
			Manufacturer: "Trane",
			Model:        "CVHF",
			CapacityTons: &capacity,
		})
		if i == 0 {
			first = u
		}
	}

	m.AddBaseline(models.Baseline{
		OrganizationID: org.ID,
		BuildingID:     &plant.ID,
		Name:           "Design COP",
		MetricKey:      "cop",
		Value:          5.5,
	})

	_, err := m.CreateAlertRule(ctx, models.AlertRule{
		UnitID:    first.ID,
		Name:      "High power draw",
		MetricKey: "power_kw",
		Operator:  models.OperatorGT,
		Threshold: 400,
		Severity:  models.SeverityWarning,
		IsActive:  true,
	})
	return org, err
}
