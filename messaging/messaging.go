// Package messaging connects to NATS and names the subjects rfqflow uses.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"rfqflow/logging"
)

const (
	// SubjectTripSubmitted carries TripSubmitted events and triggers distribution.
	SubjectTripSubmitted = "rfq.trips.submitted"
	// SubjectDistributionViewed is published when an agency opens a request.
	SubjectDistributionViewed = "rfq.distributions.viewed"
	// SubjectDistributionResponded is published by the offer subsystem.
	SubjectDistributionResponded = "rfq.distributions.responded"
	// SubjectDeliveries is the JetStream subject for delivery jobs.
	SubjectDeliveries = "rfq.deliveries"
)

// TripSubmitted asks for a trip request to be distributed.
type TripSubmitted struct {
	TripRequestID string `json:"trip_request_id"`
}

// DistributionEvent identifies a distribution either by a signed action token
// or by its id.
type DistributionEvent struct {
	Token          string `json:"token,omitempty"`
	DistributionID string `json:"distribution_id,omitempty"`
}

// Reply is sent back on request/reply subjects.
type Reply struct {
	OK     bool   `json:"ok"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "rfqflow",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials NATS and logs disconnects and reconnects through logger.
func Connect(cfg Config, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}
	return conn, nil
}

// Publisher is the part of *nats.Conn used for fire-and-forget events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(ctx context.Context, p Publisher, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("messaging: marshal %s: %w", subject, err)
	}
	if err := p.Publish(subject, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", subject, err)
	}
	return nil
}
