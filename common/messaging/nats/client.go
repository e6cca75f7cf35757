// Package nats implements the messaging interfaces on core NATS.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/common/messaging"
)

var (
	_ messaging.Publisher  = (*Client)(nil)
	_ messaging.Subscriber = (*Client)(nil)
)

// Client publishes and subscribes over one NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *logging.Logger
}

// Config holds NATS client configuration.
type Config struct {
	URL  string
	Name string

	// MaxReconnects of -1 reconnects forever.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	// Token enables token authentication when set.
	Token string

	Logger *logging.Logger
}

// DefaultConfig returns the settings used by pulse processes.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "pulse",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewClient connects to cfg.URL.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("nats_url", cfg.URL)

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("NATS async error", "subject", subject, logging.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// PublishMsg buffers msg for sending; it does not wait on the network.
func (c *Client) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.PublishMsg(toNATS(msg)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subscribe delivers every message matching subject to h on the
// connection's dispatch goroutine.
func (c *Client) Subscribe(subject string, h messaging.Handler) (func() error, error) {
	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) { h(fromNATS(m)) })
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Debug("subscribed", "subject", subject)
	return sub.Unsubscribe, nil
}

// Close drops the connection without flushing.
func (c *Client) Close() error {
	c.conn.Close()
	return nil
}

// Drain flushes buffered publishes and pending deliveries, then closes.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

func toNATS(msg *messaging.Message) *nats.Msg {
	m := &nats.Msg{Subject: msg.Subject, Data: msg.Data}
	if len(msg.Header) > 0 {
		m.Header = make(nats.Header, len(msg.Header))
		for k, v := range msg.Header {
			m.Header.Set(k, v)
		}
	}
	return m
}

func fromNATS(m *nats.Msg) *messaging.Message {
	msg := &messaging.Message{
		Subject:   m.Subject,
		Data:      m.Data,
		Timestamp: time.Now(),
	}
	if len(m.Header) > 0 {
		msg.Header = make(map[string]string, len(m.Header))
		for k := range m.Header {
			msg.Header[k] = m.Header.Get(k)
		}
	}
	return msg
}
