package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			HTTPListen: ":8080",
			LogLevel:   "info",
		},
		SQL: SQLConfig{
			DSN:      "postgres://localhost/test",
			MaxConns: 10,
			MinConns: 2,
		},
		Broker: BrokerConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "bgpstream-inspect",
			Topics:  []string{"dump-notifications"},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoHTTPListen(t *testing.T) {
	cfg := validConfig()
	cfg.Service.HTTPListen = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty http_listen")
	}
}

func TestValidate_SQLMaxConnsZero(t *testing.T) {
	cfg := validConfig()
	cfg.SQL.MaxConns = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sql.max_conns = 0 when dsn is set")
	}
}

func TestValidate_SQLSkippedWhenDSNEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.SQL.DSN = ""
	cfg.SQL.MaxConns = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected sql validation to be skipped with no dsn, got: %v", err)
	}
}

func TestValidate_BrokerGroupIDRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.GroupID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty broker.group_id when brokers is set")
	}
}

func TestValidate_SASLUsernameRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Broker.SASL.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sasl enabled with no username")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
broker:
  brokers:
    - "localhost:9092"
  group_id: "bgpstream-inspect"
  topics:
    - "dump-notifications"
sql:
  dsn: "postgres://localhost/test"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideDSN(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPSTREAM_SQL__DSN", "postgres://envhost/envdb")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SQL.DSN != "postgres://envhost/envdb" {
		t.Errorf("expected DSN from env, got %q", cfg.SQL.DSN)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPSTREAM_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyGroupIDFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("BGPSTREAM_BROKER__GROUP_ID", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty broker group_id via env")
	}
}

func TestLoad_DefaultsApplyWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.HTTPListen != ":8080" {
		t.Errorf("expected default http_listen, got %q", cfg.Service.HTTPListen)
	}
	if cfg.File.RootDir != "./dumps" {
		t.Errorf("expected default file.root_dir, got %q", cfg.File.RootDir)
	}
	if cfg.Retention.Days != 30 || cfg.Retention.Timezone != "UTC" {
		t.Errorf("expected default retention of 30 days/UTC, got %+v", cfg.Retention)
	}
}
