package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chillerhub.yaml")
	yaml := `
http:
  addr: ":9090"
database:
  driver: memory
notify:
  primary: smtp
  fallback: [log]
  smtp_host: mail.example.com
analytics:
  query_timeout: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHILLERHUB_AUTH_SERVICE_TOKEN", "s3cret")
	t.Setenv("CHILLERHUB_REDIS_RULE_TTL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.Database.Driver != "memory" {
		t.Errorf("file values not applied: %+v", cfg.HTTP)
	}
	if cfg.Notify.Primary != "smtp" || len(cfg.Notify.Fallback) != 1 || cfg.Notify.Fallback[0] != "log" {
		t.Errorf("notify = %+v", cfg.Notify)
	}
	if cfg.Analytics.QueryTimeout != 5*time.Second {
		t.Errorf("query_timeout = %v", cfg.Analytics.QueryTimeout)
	}
	if cfg.Auth.ServiceToken != "s3cret" || cfg.Redis.RuleTTL != 30*time.Second {
		t.Errorf("env overrides not applied: token=%q ttl=%v", cfg.Auth.ServiceToken, cfg.Redis.RuleTTL)
	}
	if cfg.Database.ConfigDSN != cfg.Database.TelemetryDSN {
		t.Errorf("config dsn should default to the telemetry dsn")
	}
	if cfg.Notify.Workers != 4 || cfg.Kafka.Producer.PoolSize != 4 {
		t.Errorf("defaults lost: workers=%d pool=%d", cfg.Notify.Workers, cfg.Kafka.Producer.PoolSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "sqlite" }, "database.driver"},
		{"postgres without dsn", func(c *Config) { c.Database.TelemetryDSN = "" }, "telemetry_dsn"},
		{"kafka without topic", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }, "kafka.topic"},
		{"token without org", func(c *Config) { c.Auth.ServiceToken = "x"; c.Auth.ServiceOrganization = "" }, "service_organization"},
		{"unknown provider", func(c *Config) { c.Notify.Primary = "fax" }, "notify.primary"},
		{"no workers", func(c *Config) { c.Notify.Workers = 0 }, "notify.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestMaskDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://user:pw@db:5432/x?sslmode=disable", "postgres://user:xxxxx@db:5432/x?sslmode=disable"},
		{"host=db user=u password=pw dbname=x", "host=db user=u password=xxxxx dbname=x"},
		{"postgres://db:5432/x", "postgres://db:5432/x"},
	}
	for _, tt := range tests {
		if got := MaskDSN(tt.in); got != tt.want {
			t.Errorf("MaskDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
