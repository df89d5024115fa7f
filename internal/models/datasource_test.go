package models_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"chillerhub/internal/models"
)

func TestDataSource_UnmarshalVariants(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.DataSourceType
	}{
		{
			name: "mqtt",
			body: `{"chiller_unit_id": 4, "type": "mqtt", "connection_params": {"live": {"broker_url": "mqtt://broker:1883", "topic": "plant/ch-1", "qos": 1}}}`,
			want: models.DataSourceMQTT,
		},
		{
			name: "http",
			body: `{"chiller_unit_id": 4, "type": "HTTP", "connection_params": {"live": {"endpoint_url": "https://bms.local/api", "method": "GET"}}}`,
			want: models.DataSourceHTTP,
		},
		{
			name: "file upload",
			body: `{"chiller_unit_id": 4, "type": "FILE_UPLOAD", "connection_params": {"live": {"file_format": "csv"}}}`,
			want: models.DataSourceFileUpload,
		},
		{
			name: "external db with history",
			body: `{"chiller_unit_id": 4, "type": "EXTERNAL_DB", "connection_params": {
				"live": {"host": "db", "port": 5432, "database": "bms", "username": "ro", "password": "pw", "table": "readings"},
				"historical_storage": {"host": "hist", "port": 5432, "database": "hist", "username": "u", "password": "p"}}}`,
			want: models.DataSourceExternalDB,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ds models.DataSource
			if err := json.Unmarshal([]byte(tt.body), &ds); err != nil {
				t.Fatalf("unmarshal error: %v", err)
			}
			if ds.Type != tt.want || ds.Params.Live.Type() != tt.want {
				t.Errorf("type = %s / %s, want %s", ds.Type, ds.Params.Live.Type(), tt.want)
			}
		})
	}
}

func TestDataSource_HistoricalDefaults(t *testing.T) {
	body := `{"chiller_unit_id": 1, "type": "FILE_UPLOAD", "connection_params": {
		"live": {"file_format": "xlsx"},
		"historical_storage": {"host": "hist", "port": 5432, "database": "hist", "username": "u"}}}`
	var ds models.DataSource
	if err := json.Unmarshal([]byte(body), &ds); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	hs := ds.Params.HistoricalStorage
	if hs == nil || hs.Backend != models.StorageBackendPostgres || hs.PreloadYears != 2 {
		t.Errorf("defaults not applied: %+v", hs)
	}
}

func TestDataSource_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"no unit", `{"type": "HTTP", "connection_params": {"live": {"endpoint_url": "https://x"}}}`, models.ErrDataSourceUnitID},
		{"unknown type", `{"chiller_unit_id": 1, "type": "MODBUS", "connection_params": {"live": {}}}`, models.ErrDataSourceType},
		{"no live", `{"chiller_unit_id": 1, "type": "HTTP", "connection_params": {}}`, models.ErrDataSourceLive},
		{"missing topic", `{"chiller_unit_id": 1, "type": "MQTT", "connection_params": {"live": {"broker_url": "mqtt://b"}}}`, models.ErrDataSourceField},
		{"wrong scheme", `{"chiller_unit_id": 1, "type": "HTTP", "connection_params": {"live": {"endpoint_url": "ftp://x"}}}`, models.ErrDataSourceValue},
		{"bad port", `{"chiller_unit_id": 1, "type": "EXTERNAL_DB", "connection_params": {"live": {"host": "h", "database": "d", "username": "u", "table": "t"}}}`, models.ErrDataSourceValue},
		{"bad backend", `{"chiller_unit_id": 1, "type": "FILE_UPLOAD", "connection_params": {"live": {"file_format": "csv"}, "historical_storage": {"backend": "MYSQL"}}}`, models.ErrStorageBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ds models.DataSource
			err := json.Unmarshal([]byte(tt.body), &ds)
			if !errors.Is(err, tt.want) {
				t.Errorf("unmarshal error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDataSource_RejectsFieldsOfOtherVariant(t *testing.T) {
	body := `{"chiller_unit_id": 1, "type": "FILE_UPLOAD", "connection_params": {"live": {"file_format": "csv", "broker_url": "mqtt://b"}}}`
	var ds models.DataSource
	if err := json.Unmarshal([]byte(body), &ds); !models.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestConnectionParams_RoundTripAndRedaction(t *testing.T) {
	params := models.ConnectionParams{
		Live: models.MQTTParams{BrokerURL: "mqtts://b:8883", Topic: "t", Password: "secret"},
		HistoricalStorage: &models.HistoricalStorage{
			Backend: "POSTGRES", Host: "h", Port: 5432, Database: "d", Username: "u", Password: "hunter2", PreloadYears: 2,
		},
	}

	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := models.ParseConnectionParams(models.DataSourceMQTT, raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if back.Live.(models.MQTTParams).Password != "secret" {
		t.Errorf("stored form must keep credentials")
	}

	red, err := json.Marshal(params.Redacted())
	if err != nil {
		t.Fatalf("marshal redacted: %v", err)
	}
	if strings.Contains(string(red), "secret") || strings.Contains(string(red), "hunter2") {
		t.Errorf("redacted params leak credentials: %s", red)
	}
	if params.Live.(models.MQTTParams).Password != "secret" {
		t.Errorf("Redacted must not modify the original")
	}
}
