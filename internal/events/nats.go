package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// NATSPublisher publishes events onto a NATS subject hierarchy.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *logging.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATS connects to NATS and returns a publisher rooted at subject.
func NewNATS(url, subject string, logger *logging.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger}, nil
}

// Publish sends the event on "<subject>.<type>". Failures are logged and
// swallowed.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn(ctx, "failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.subject+"."+ev.Type, payload); err != nil {
		p.logger.Warn(ctx, "failed to publish event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	_ = p.nc.Flush()
	p.nc.Close()
}
