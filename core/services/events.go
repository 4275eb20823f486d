package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mudler/xlog"
	"github.com/nats-io/nats.go"
)

type EventType string

const (
	EventGenerationStarted   EventType = "started"
	EventGenerationSucceeded EventType = "succeeded"
	EventGenerationFailed    EventType = "failed"
)

// GenerationEvent describes a lifecycle step of one generation.
type GenerationEvent struct {
	Type      EventType     `json:"type"`
	Owner     string        `json:"owner"`
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id"`
	ModelID   string        `json:"model_id"`
	Outputs   []string      `json:"outputs,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventPublisher fans generation events out to other systems. Failing to
// publish never affects the generation.
type EventPublisher interface {
	Publish(ctx context.Context, e GenerationEvent) error
}

// NATSPublisher publishes events as JSON on <subject>.<type>.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("genstudio"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				xlog.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			xlog.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, subject: strings.TrimSuffix(subject, ".")}, nil
}

func (p *NATSPublisher) Subject(t EventType) string {
	return p.subject + "." + string(t)
}

func (p *NATSPublisher) Publish(_ context.Context, e GenerationEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.Subject(e.Type), data)
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
