package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/pulse/common/messaging"
	"github.com/telhawk-systems/pulse/tracker/pkg/tracker"
)

type Config struct {
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Beacon     BeaconConfig     `mapstructure:"beacon"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Instrument InstrumentConfig `mapstructure:"instrument"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Debug      bool             `mapstructure:"debug"`
}

type TrackingConfig struct {
	ID       string `mapstructure:"id"`
	Endpoint string `mapstructure:"endpoint"`
}

type BatchConfig struct {
	Size          int           `mapstructure:"size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	FollowUpDelay time.Duration `mapstructure:"follow_up_delay"`
}

type DeliveryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type BeaconConfig struct {
	// Transport is "http" or "nats".
	Transport string `mapstructure:"transport"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type StorageConfig struct {
	// Backend is "memory", "file" or "redis".
	Backend   string `mapstructure:"backend"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type InstrumentConfig struct {
	HashRouting     bool          `mapstructure:"hash_routing"`
	ScrollThreshold float64       `mapstructure:"scroll_threshold"`
	ScrollDebounce  time.Duration `mapstructure:"scroll_debounce"`
	IdleThreshold   time.Duration `mapstructure:"idle_threshold"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
}

type SinkConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Beacon transports.
const (
	TransportHTTP = "http"
	TransportNATS = "nats"
)

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("tracking.id", "")
	v.SetDefault("tracking.endpoint", tracker.DefaultEndpoint)
	v.SetDefault("batch.size", 25)
	v.SetDefault("batch.flush_interval", "5s")
	v.SetDefault("batch.follow_up_delay", "1s")
	v.SetDefault("delivery.max_retries", 3)
	v.SetDefault("delivery.base_delay", "1s")
	v.SetDefault("delivery.timeout", "10s")
	v.SetDefault("beacon.transport", TransportHTTP)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", messaging.SubjectBeaconPrefix)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.namespace", "pulse")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("instrument.hash_routing", false)
	v.SetDefault("instrument.scroll_threshold", 25)
	v.SetDefault("instrument.scroll_debounce", "150ms")
	v.SetDefault("instrument.idle_threshold", "30s")
	v.SetDefault("instrument.poll_interval", "1s")
	v.SetDefault("instrument.settle_delay", "100ms")
	v.SetDefault("sink.addr", "127.0.0.1:8099")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("debug", false)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("pulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pulse")
	}

	// Environment variables override, e.g. PULSE_TRACKING_ID
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the engine does not validate itself.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Beacon.Transport {
	case TransportHTTP, TransportNATS:
	default:
		return fmt.Errorf("unknown beacon transport %q", c.Beacon.Transport)
	}
	if err := c.Tracker().Validate(); err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}
	return nil
}

// Tracker maps the file settings onto the engine configuration. A
// delivery.max_retries of 0 disables retries.
func (c *Config) Tracker() tracker.Config {
	retries := c.Delivery.MaxRetries
	if retries == 0 {
		retries = tracker.NoRetries
	}
	return tracker.Config{
		TrackingID:      c.Tracking.ID,
		Endpoint:        c.Tracking.Endpoint,
		BatchSize:       c.Batch.Size,
		FlushInterval:   c.Batch.FlushInterval,
		FollowUpDelay:   c.Batch.FollowUpDelay,
		MaxRetries:      retries,
		BaseDelay:       c.Delivery.BaseDelay,
		RequestTimeout:  c.Delivery.Timeout,
		HashRouting:     c.Instrument.HashRouting,
		ScrollThreshold: c.Instrument.ScrollThreshold,
		ScrollDebounce:  c.Instrument.ScrollDebounce,
		SettleDelay:     c.Instrument.SettleDelay,
		PollInterval:    c.Instrument.PollInterval,
		IdleThreshold:   c.Instrument.IdleThreshold,
		Debug:           c.Debug,
	}
}
