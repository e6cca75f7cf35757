package tracker

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrMissingTrackingID is returned by New when no tracking identifier is set.
var ErrMissingTrackingID = errors.New("tracking id is required")

// DefaultEndpoint is the collector used when Config.Endpoint is empty.
const DefaultEndpoint = "http://localhost:8099/api/v1/collect"

// NoRetries as Config.MaxRetries sends each batch once.
const NoRetries = -1

// Config holds engine settings. Only TrackingID is required; zero values
// take the defaults from DefaultConfig.
type Config struct {
	TrackingID string
	Endpoint   string

	BatchSize     int
	FlushInterval time.Duration
	FollowUpDelay time.Duration

	MaxRetries     int
	BaseDelay      time.Duration
	RequestTimeout time.Duration

	HashRouting     bool
	ScrollThreshold float64
	ScrollDebounce  time.Duration
	SettleDelay     time.Duration
	PollInterval    time.Duration
	IdleThreshold   time.Duration

	// Debug logs dropped batches and ignored commands.
	Debug bool
}

// DefaultConfig returns the default settings for trackingID.
func DefaultConfig(trackingID string) Config {
	return Config{
		TrackingID:      trackingID,
		Endpoint:        DefaultEndpoint,
		BatchSize:       25,
		FlushInterval:   5 * time.Second,
		FollowUpDelay:   time.Second,
		MaxRetries:      3,
		BaseDelay:       time.Second,
		RequestTimeout:  10 * time.Second,
		ScrollThreshold: 25,
		ScrollDebounce:  150 * time.Millisecond,
		SettleDelay:     100 * time.Millisecond,
		PollInterval:    time.Second,
		IdleThreshold:   30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.TrackingID)
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.FollowUpDelay == 0 {
		c.FollowUpDelay = d.FollowUpDelay
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ScrollThreshold == 0 {
		c.ScrollThreshold = d.ScrollThreshold
	}
	if c.ScrollDebounce == 0 {
		c.ScrollDebounce = d.ScrollDebounce
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.IdleThreshold == 0 {
		c.IdleThreshold = d.IdleThreshold
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TrackingID) == "" {
		return ErrMissingTrackingID
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: must be an absolute http(s) URL", c.Endpoint)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxRetries < NoRetries {
		return fmt.Errorf("max retries must be at least %d, got %d", NoRetries, c.MaxRetries)
	}
	if c.ScrollThreshold <= 0 || c.ScrollThreshold > 100 {
		return fmt.Errorf("scroll threshold must be within (0,100], got %v", c.ScrollThreshold)
	}
	for name, d := range map[string]time.Duration{
		"flush interval":  c.FlushInterval,
		"follow-up delay": c.FollowUpDelay,
		"base delay":      c.BaseDelay,
		"request timeout": c.RequestTimeout,
		"scroll debounce": c.ScrollDebounce,
		"settle delay":    c.SettleDelay,
		"poll interval":   c.PollInterval,
		"idle threshold":  c.IdleThreshold,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}
