package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

const envPrefix = "BMP_PROXY_"

type Config struct {
	Service   ServiceConfig   `koanf:"service"`
	Listener  ListenerConfig  `koanf:"listener"`
	Forward   ForwardConfig   `koanf:"forward"`
	Collector CollectorConfig `koanf:"collector"`
	Kafka     KafkaConfig     `koanf:"kafka"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type ListenerConfig struct {
	Address            string `koanf:"address"`
	MaxConnections     int    `koanf:"max_connections"`
	ReadBufferBytes    int    `koanf:"read_buffer_bytes"`
	MaxMessageBytes    int    `koanf:"max_message_bytes"`
	IdleTimeoutSeconds int    `koanf:"idle_timeout_seconds"`
}

type ForwardConfig struct {
	QueueSize  int  `koanf:"queue_size"`
	IncludeRaw bool `koanf:"include_raw"`
}

// CollectorConfig points at a downstream BMP collector that receives the
// raw message stream unchanged.
type CollectorConfig struct {
	Enabled             bool   `koanf:"enabled"`
	Host                string `koanf:"host"`
	Port                int    `koanf:"port"`
	DialTimeoutSeconds  int    `koanf:"dial_timeout_seconds"`
	ReconnectIntervalMs int    `koanf:"reconnect_interval_ms"`
}

type KafkaConfig struct {
	Enabled            bool       `koanf:"enabled"`
	Brokers            []string   `koanf:"brokers"`
	ClientID           string     `koanf:"client_id"`
	TLS                TLSConfig  `koanf:"tls"`
	SASL               SASLConfig `koanf:"sasl"`
	ParsedTopic        string     `koanf:"parsed_topic"`
	RawTopic           string     `koanf:"raw_topic"`
	CompressRaw        bool       `koanf:"compress_raw"`
	MaxBufferedRecords int        `koanf:"max_buffered_records"`
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

// Default returns the configuration used when neither the file nor the
// environment sets a key.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "bmp-proxy-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Listener: ListenerConfig{
			Address:            ":5001",
			MaxConnections:     64,
			ReadBufferBytes:    65536,
			MaxMessageBytes:    16777216,
			IdleTimeoutSeconds: 0,
		},
		Forward: ForwardConfig{
			QueueSize: 10000,
		},
		Collector: CollectorConfig{
			Port:                5000,
			DialTimeoutSeconds:  5,
			ReconnectIntervalMs: 1000,
		},
		Kafka: KafkaConfig{
			ClientID:           "bmp-proxy",
			ParsedTopic:        "bmp.parsed",
			RawTopic:           "bmp.raw",
			CompressRaw:        true,
			MaxBufferedRecords: 10000,
		},
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BMP_PROXY_KAFKA__BROKERS → kafka.brokers
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Listener.Address == "" {
		return fmt.Errorf("config: listener.address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listener.Address); err != nil {
		return fmt.Errorf("config: listener.address is invalid: %w", err)
	}
	if c.Listener.MaxConnections <= 0 {
		return fmt.Errorf("config: listener.max_connections must be > 0 (got %d)", c.Listener.MaxConnections)
	}
	if c.Listener.ReadBufferBytes <= 0 {
		return fmt.Errorf("config: listener.read_buffer_bytes must be > 0 (got %d)", c.Listener.ReadBufferBytes)
	}
	if c.Listener.MaxMessageBytes < 48 {
		return fmt.Errorf("config: listener.max_message_bytes must be >= 48 (got %d)", c.Listener.MaxMessageBytes)
	}
	if c.Listener.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("config: listener.idle_timeout_seconds must be >= 0 (got %d)", c.Listener.IdleTimeoutSeconds)
	}
	if c.Forward.QueueSize <= 0 {
		return fmt.Errorf("config: forward.queue_size must be > 0 (got %d)", c.Forward.QueueSize)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Collector.Enabled {
		if c.Collector.Host == "" {
			return fmt.Errorf("config: collector.host is required when the collector is enabled")
		}
		if c.Collector.Port <= 0 || c.Collector.Port > 65535 {
			return fmt.Errorf("config: collector.port must be in 1..65535 (got %d)", c.Collector.Port)
		}
		if c.Collector.DialTimeoutSeconds <= 0 {
			return fmt.Errorf("config: collector.dial_timeout_seconds must be > 0 (got %d)", c.Collector.DialTimeoutSeconds)
		}
		if c.Collector.ReconnectIntervalMs <= 0 {
			return fmt.Errorf("config: collector.reconnect_interval_ms must be > 0 (got %d)", c.Collector.ReconnectIntervalMs)
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.ParsedTopic == "" && c.Kafka.RawTopic == "" {
			return fmt.Errorf("config: kafka.parsed_topic or kafka.raw_topic is required when kafka is enabled")
		}
		if c.Kafka.MaxBufferedRecords <= 0 {
			return fmt.Errorf("config: kafka.max_buffered_records must be > 0 (got %d)", c.Kafka.MaxBufferedRecords)
		}
		if c.Kafka.SASL.Enabled && strings.ToUpper(c.Kafka.SASL.Mechanism) != "PLAIN" {
			return fmt.Errorf("config: kafka.sasl.mechanism %q is not supported", c.Kafka.SASL.Mechanism)
		}
	}
	return nil
}

// CollectorAddress returns host:port of the downstream collector.
func (c *CollectorConfig) CollectorAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *CollectorConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

func (c *CollectorConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// IdleTimeout returns zero when idle connections are never closed.
func (l *ListenerConfig) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutSeconds) * time.Second
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
