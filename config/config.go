// Package config loads the configuration for cmd/bgpstream-inspect and the
// default options it hands to the active plugin through
// SetDataInterfaceOption. The bgpstream library itself never reads config
// or env directly — only the demo command loads this package, and
// plugins/broker reuses BrokerConfig for its TLS/SASL helpers.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	SQL       SQLConfig       `koanf:"sql"`
	Broker    BrokerConfig    `koanf:"broker"`
	File      FileConfig      `koanf:"file"`
	HTTP      HTTPConfig      `koanf:"http"`
	Retention RetentionConfig `koanf:"retention"`
}

type ServiceConfig struct {
	HTTPListen string `koanf:"http_listen"`
	LogLevel   string `koanf:"log_level"`
}

// SQLConfig configures plugins/sql's default dump catalog connection.
type SQLConfig struct {
	DSN           string `koanf:"dsn"`
	MaxConns      int32  `koanf:"max_conns"`
	MinConns      int32  `koanf:"min_conns"`
	MigrationsDir string `koanf:"migrations_dir"`
}

// RetentionConfig configures the bgpstream_dumps catalog's daily partition
// creation and pruning, driven by the "maintain" cmd subcommand.
type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

// BrokerConfig configures plugins/broker's default Kafka client.
type BrokerConfig struct {
	Brokers  []string   `koanf:"brokers"`
	ClientID string     `koanf:"client_id"`
	GroupID  string     `koanf:"group_id"`
	Topics   []string   `koanf:"topics"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// FileConfig configures plugins/file's default dump root.
type FileConfig struct {
	RootDir string `koanf:"root_dir"`
}

// HTTPConfig configures plugins/http's default index endpoint.
type HTTPConfig struct {
	IndexURL string `koanf:"index_url"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BGPSTREAM_BROKER__BROKERS → broker.brokers
	if err := k.Load(env.Provider("BGPSTREAM_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPSTREAM_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			HTTPListen: ":8080",
			LogLevel:   "info",
		},
		SQL: SQLConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Broker: BrokerConfig{
			ClientID: "bgpstream-inspect",
		},
		File: FileConfig{
			RootDir: "./dumps",
		},
		Retention: RetentionConfig{
			Days:     30,
			Timezone: "UTC",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Broker.Brokers) == 1 && strings.Contains(cfg.Broker.Brokers[0], ",") {
		cfg.Broker.Brokers = strings.Split(cfg.Broker.Brokers[0], ",")
	}
	if len(cfg.Broker.Topics) == 1 && strings.Contains(cfg.Broker.Topics[0], ",") {
		cfg.Broker.Topics = strings.Split(cfg.Broker.Topics[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Service.HTTPListen == "" {
		return fmt.Errorf("config: service.http_listen is required")
	}
	if c.SQL.DSN != "" {
		if c.SQL.MaxConns <= 0 {
			return fmt.Errorf("config: sql.max_conns must be > 0 (got %d)", c.SQL.MaxConns)
		}
		if c.SQL.MinConns < 0 {
			return fmt.Errorf("config: sql.min_conns must be >= 0 (got %d)", c.SQL.MinConns)
		}
	}
	if len(c.Broker.Brokers) > 0 && c.Broker.GroupID == "" {
		return fmt.Errorf("config: broker.group_id is required when broker.brokers is set")
	}
	if c.Broker.SASL.Enabled && c.Broker.SASL.Username == "" {
		return fmt.Errorf("config: broker.sasl.username is required when broker.sasl.enabled is true")
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the broker's TLS settings. Returns nil if TLS is disabled.
func (b *BrokerConfig) BuildTLSConfig() (*tls.Config, error) {
	if !b.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if b.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(b.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if b.TLS.CertFile != "" && b.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(b.TLS.CertFile, b.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the broker's SASL settings. Returns nil if SASL is disabled.
func (b *BrokerConfig) BuildSASLMechanism() sasl.Mechanism {
	if !b.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(b.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: b.SASL.Username, Pass: b.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
