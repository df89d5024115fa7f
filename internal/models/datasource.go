package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chillerhub/internal/apperr"
)

// DataSourceType selects how telemetry reaches a unit.
type DataSourceType string

const (
	DataSourceMQTT       DataSourceType = "MQTT"
	DataSourceHTTP       DataSourceType = "HTTP"
	DataSourceFileUpload DataSourceType = "FILE_UPLOAD"
	DataSourceExternalDB DataSourceType = "EXTERNAL_DB"
)

// StorageBackendPostgres is the only historical storage backend.
const StorageBackendPostgres = "POSTGRES"

const defaultPreloadYears = 2

const redacted = "********"

var (
	ErrDataSourceType   = fmt.Errorf("%w: type must be one of MQTT, HTTP, FILE_UPLOAD, EXTERNAL_DB", apperr.ErrInvalidInput)
	ErrDataSourceLive   = fmt.Errorf("%w: connection_params.live is required", apperr.ErrInvalidInput)
	ErrDataSourceField  = fmt.Errorf("%w: missing required connection field", apperr.ErrInvalidInput)
	ErrDataSourceValue  = fmt.Errorf("%w: invalid connection field", apperr.ErrInvalidInput)
	ErrStorageBackend   = fmt.Errorf("%w: historical_storage.backend must be POSTGRES", apperr.ErrInvalidInput)
	ErrDataSourceUnitID = fmt.Errorf("%w: chiller_unit_id is required", apperr.ErrInvalidInput)
)

// LiveParams is the connection detail of one data source type. The concrete
// types are MQTTParams, HTTPParams, FileUploadParams and ExternalDBParams.
type LiveParams interface {
	Type() DataSourceType
	Validate() error
	redact() LiveParams
}

// MQTTParams subscribes to a broker topic.
type MQTTParams struct {
	BrokerURL string `json:"broker_url"`
	Topic     string `json:"topic"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	QoS       int    `json:"qos"`
}

func (MQTTParams) Type() DataSourceType { return DataSourceMQTT }

func (p MQTTParams) Validate() error {
	if err := requireFields(map[string]string{"broker_url": p.BrokerURL, "topic": p.Topic}); err != nil {
		return err
	}
	if err := requireURL("broker_url", p.BrokerURL, "mqtt", "mqtts", "tcp", "ssl", "ws", "wss"); err != nil {
		return err
	}
	if p.QoS < 0 || p.QoS > 2 {
		return fmt.Errorf("qos %d: %w", p.QoS, ErrDataSourceValue)
	}
	return nil
}

func (p MQTTParams) redact() LiveParams {
	if p.Password != "" {
		p.Password = redacted
	}
	return p
}

// HTTPParams polls a remote endpoint.
type HTTPParams struct {
	EndpointURL         string            `json:"endpoint_url"`
	Method              string            `json:"method,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	PollIntervalSeconds int               `json:"poll_interval_seconds,omitempty"`
}

func (HTTPParams) Type() DataSourceType { return DataSourceHTTP }

func (p HTTPParams) Validate() error {
	if err := requireFields(map[string]string{"endpoint_url": p.EndpointURL}); err != nil {
		return err
	}
	if err := requireURL("endpoint_url", p.EndpointURL, "http", "https"); err != nil {
		return err
	}
	switch strings.ToUpper(p.Method) {
	case "", "GET", "POST":
	default:
		return fmt.Errorf("method %q: %w", p.Method, ErrDataSourceValue)
	}
	if p.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds: %w", ErrDataSourceValue)
	}
	return nil
}

func (p HTTPParams) redact() LiveParams {
	if len(p.Headers) == 0 {
		return p
	}
	headers := make(map[string]string, len(p.Headers))
	for k, v := range p.Headers {
		switch strings.ToLower(k) {
		case "authorization", "x-api-key", "x-service-token":
			v = redacted
		}
		headers[k] = v
	}
	p.Headers = headers
	return p
}

// FileUploadParams describes periodic file drops.
type FileUploadParams struct {
	FileFormat      string `json:"file_format"`
	TimestampColumn string `json:"timestamp_column,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

func (FileUploadParams) Type() DataSourceType { return DataSourceFileUpload }

func (p FileUploadParams) Validate() error {
	if err := requireFields(map[string]string{"file_format": p.FileFormat}); err != nil {
		return err
	}
	switch strings.ToLower(p.FileFormat) {
	case "csv", "xlsx":
	default:
		return fmt.Errorf("file_format %q: %w", p.FileFormat, ErrDataSourceValue)
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", p.Timezone, ErrDataSourceValue)
		}
	}
	return nil
}

func (p FileUploadParams) redact() LiveParams { return p }

// ExternalDBParams reads readings from another database table.
type ExternalDBParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Table    string `json:"table"`
	SSL      bool   `json:"ssl"`
}

func (ExternalDBParams) Type() DataSourceType { return DataSourceExternalDB }

func (p ExternalDBParams) Validate() error {
	if err := requireFields(map[string]string{
		"host":     p.Host,
		"database": p.Database,
		"username": p.Username,
		"table":    p.Table,
	}); err != nil {
		return err
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port %d: %w", p.Port, ErrDataSourceValue)
	}
	return nil
}

func (p ExternalDBParams) redact() LiveParams {
	if p.Password != "" {
		p.Password = redacted
	}
	return p
}

// HistoricalStorage is where backfilled history for the unit is kept.
type HistoricalStorage struct {
	Backend      string `json:"backend"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Database     string `json:"database"`
	Username     string `json:"username"`
	Password     string `json:"password,omitempty"`
	SSL          bool   `json:"ssl"`
	PreloadYears int    `json:"preload_years"`
}

// Validate applies defaults and checks required fields.
func (h *HistoricalStorage) Validate() error {
	if h.Backend == "" {
		h.Backend = StorageBackendPostgres
	}
	if strings.ToUpper(h.Backend) != StorageBackendPostgres {
		return ErrStorageBackend
	}
	h.Backend = StorageBackendPostgres
	if h.PreloadYears == 0 {
		h.PreloadYears = defaultPreloadYears
	}
	if err := requireFields(map[string]string{
		"historical_storage.host":     h.Host,
		"historical_storage.database": h.Database,
		"historical_storage.username": h.Username,
	}); err != nil {
		return err
	}
	if h.Port <= 0 || h.Port > 65535 {
		return fmt.Errorf("historical_storage.port %d: %w", h.Port, ErrDataSourceValue)
	}
	if h.PreloadYears < 0 {
		return fmt.Errorf("historical_storage.preload_years: %w", ErrDataSourceValue)
	}
	return nil
}

// ConnectionParams pairs the live variant with optional historical storage.
type ConnectionParams struct {
	Live              LiveParams
	HistoricalStorage *HistoricalStorage
}

type connectionParamsJSON struct {
	Live              json.RawMessage    `json:"live"`
	HistoricalStorage *HistoricalStorage `json:"historical_storage,omitempty"`
}

// MarshalJSON encodes the params in their stored shape.
func (c ConnectionParams) MarshalJSON() ([]byte, error) {
	live, err := json.Marshal(c.Live)
	if err != nil {
		return nil, err
	}
	return json.Marshal(connectionParamsJSON{Live: live, HistoricalStorage: c.HistoricalStorage})
}

// Redacted returns a copy safe to show to API clients.
func (c ConnectionParams) Redacted() ConnectionParams {
	out := ConnectionParams{}
	if c.Live != nil {
		out.Live = c.Live.redact()
	}
	if c.HistoricalStorage != nil {
		hs := *c.HistoricalStorage
		if hs.Password != "" {
			hs.Password = redacted
		}
		out.HistoricalStorage = &hs
	}
	return out
}

// ParseConnectionParams decodes raw params for the given type. Unknown
// fields in the live block are rejected.
func ParseConnectionParams(t DataSourceType, raw []byte) (ConnectionParams, error) {
	var envelope connectionParamsJSON
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ConnectionParams{}, fmt.Errorf("connection_params: %w: %v", apperr.ErrInvalidInput, err)
	}
	if len(envelope.Live) == 0 || bytes.Equal(bytes.TrimSpace(envelope.Live), []byte("null")) {
		return ConnectionParams{}, ErrDataSourceLive
	}

	var live LiveParams
	switch t {
	case DataSourceMQTT:
		var p MQTTParams
		if err := decodeStrict(envelope.Live, &p); err != nil {
			return ConnectionParams{}, err
		}
		live = p
	case DataSourceHTTP:
		var p HTTPParams
		if err := decodeStrict(envelope.Live, &p); err != nil {
			return ConnectionParams{}, err
		}
		live = p
	case DataSourceFileUpload:
		var p FileUploadParams
		if err := decodeStrict(envelope.Live, &p); err != nil {
			return ConnectionParams{}, err
		}
		live = p
	case DataSourceExternalDB:
		var p ExternalDBParams
		if err := decodeStrict(envelope.Live, &p); err != nil {
			return ConnectionParams{}, err
		}
		live = p
	default:
		return ConnectionParams{}, ErrDataSourceType
	}

	if err := live.Validate(); err != nil {
		return ConnectionParams{}, err
	}
	if envelope.HistoricalStorage != nil {
		if err := envelope.HistoricalStorage.Validate(); err != nil {
			return ConnectionParams{}, err
		}
	}

	return ConnectionParams{Live: live, HistoricalStorage: envelope.HistoricalStorage}, nil
}

// DataSource configures how one unit's telemetry is collected.
type DataSource struct {
	ID        int64            `json:"id"`
	UnitID    int64            `json:"chiller_unit_id"`
	Type      DataSourceType   `json:"type"`
	Params    ConnectionParams `json:"connection_params"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

type dataSourceInput struct {
	UnitID int64           `json:"chiller_unit_id"`
	Type   DataSourceType  `json:"type"`
	Params json.RawMessage `json:"connection_params"`
}

// UnmarshalJSON decodes a create request, selecting the live variant by type.
func (d *DataSource) UnmarshalJSON(data []byte) error {
	var in dataSourceInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if in.UnitID <= 0 {
		return ErrDataSourceUnitID
	}
	in.Type = DataSourceType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	if len(in.Params) == 0 {
		return ErrDataSourceLive
	}
	params, err := ParseConnectionParams(in.Type, in.Params)
	if err != nil {
		return err
	}
	*d = DataSource{UnitID: in.UnitID, Type: in.Type, Params: params}
	return nil
}

// Redacted returns a copy with credentials masked.
func (d DataSource) Redacted() DataSource {
	d.Params = d.Params.Redacted()
	return d
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("connection_params.live: %w: %v", apperr.ErrInvalidInput, err)
	}
	return nil
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s: %w", name, ErrDataSourceField)
		}
	}
	return nil
}

func requireURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s %q: %w", field, raw, ErrDataSourceValue)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s scheme %q: %w", field, u.Scheme, ErrDataSourceValue)
}
