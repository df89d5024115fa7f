package models

import (
	"strconv"
	"time"
)

// AlertEnvelope wraps a persisted AlertEvent with the routing metadata
// published to downstream consumers.
type AlertEnvelope struct {
	Event *AlertEvent `json:"event"`

	OrganizationID int64     `json:"organization_id"`
	BuildingID     int64     `json:"building_id"`
	RuleName       string    `json:"rule_name"`
	Recipients     []string  `json:"recipients,omitempty"`
	PublishedAt    time.Time `json:"published_at"`
	IngestNode     string    `json:"ingest_node"`
	PartitionKey   string    `json:"partition_key"`
}

// NewAlertEnvelope creates an envelope partitioned by organization so that a
// tenant's alerts keep their order.
func NewAlertEnvelope(event *AlertEvent, orgID, buildingID int64, ingestNode string) *AlertEnvelope {
	return &AlertEnvelope{
		Event:          event,
		OrganizationID: orgID,
		BuildingID:     buildingID,
		PublishedAt:    time.Now().UTC(),
		IngestNode:     ingestNode,
		PartitionKey:   strconv.FormatInt(orgID, 10),
	}
}

// WithRule sets the rule metadata on the envelope
func (e *AlertEnvelope) WithRule(name string, recipients []string) *AlertEnvelope {
	e.RuleName = name
	e.Recipients = recipients
	return e
}
