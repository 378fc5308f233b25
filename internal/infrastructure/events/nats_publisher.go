package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/davidleathers/interaction-analytics/internal/domain/interaction"
)

// natsConn is the part of *nats.Conn the publisher uses
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher fans appended events out on <prefix>.<action>
type NATSPublisher struct {
	conn   natsConn
	prefix string
	logger *zap.Logger
}

// NewNATSPublisher publishes through an established connection
func NewNATSPublisher(conn natsConn, prefix string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Connect dials NATS with reconnect handling logged through logger
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("interaction-analytics"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// Name identifies the publisher in logs and metrics
func (p *NATSPublisher) Name() string {
	return "nats"
}

// Subject is where events with action are published
func (p *NATSPublisher) Subject(action string) string {
	return p.prefix + "." + subjectToken(action)
}

// Publish sends the event as JSON
func (p *NATSPublisher) Publish(ctx context.Context, event *interaction.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(event.Action)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.Debug("event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID.String()))
	return nil
}

// subjectToken makes an action usable as one NATS subject token
func subjectToken(action string) string {
	if action == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, action)
}
