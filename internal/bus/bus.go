// Package bus fans run events out over NATS so external consumers
// (gateway SSE streams, operator CLIs) can tail live run progress.
//
// Each run publishes to its own subject space:
//
//	runs.{run_id}.events.{event_type}
//
// Terminal events are additionally mirrored to orchd.runs.{status} for
// fleet-wide listeners that only care about run outcomes.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/events"
)

const (
	// SubjectCompleted and SubjectFailed receive terminal run mirrors.
	SubjectCompleted = "orchd.runs.completed"
	SubjectFailed    = "orchd.runs.failed"
)

// Connect dials NATS with reconnect behavior suited to a long-lived
// worker: the connection survives broker restarts and buffers through
// short outages.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("orchd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS", zap.String("url", url))
	return nc, nil
}

// SubjectFor returns the subject a run event is published on.
func SubjectFor(runID string, t events.Type) string {
	return fmt.Sprintf("runs.%s.events.%s", runID, t)
}

// RunWildcard returns the subscription subject covering every event of
// a run.
func RunWildcard(runID string) string {
	return fmt.Sprintf("runs.%s.events.*", runID)
}

// TypeFromSubject extracts the event type token from a run subject.
func TypeFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) < 4 {
		return ""
	}
	return parts[len(parts)-1]
}

// Publisher publishes run events to NATS. Delivery is best effort:
// callers treat publish failures as observability loss, not run
// failure.
type Publisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewPublisher wraps an established NATS connection.
func NewPublisher(nc *nats.Conn, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// PublishRunEvent publishes one event to the run's subject space and
// mirrors terminal events to the fleet subjects.
func (p *Publisher) PublishRunEvent(ctx context.Context, runID string, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event seq %d: %w", ev.Seq, err)
	}

	subject := SubjectFor(runID, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	switch ev.Type {
	case events.TypeWorkflowCompleted:
		if err := p.nc.Publish(SubjectCompleted, data); err != nil {
			p.logger.Warn("terminal mirror publish failed",
				zap.String("run_id", runID), zap.Error(err))
		}
	case events.TypeWorkflowFailed:
		if err := p.nc.Publish(SubjectFailed, data); err != nil {
			p.logger.Warn("terminal mirror publish failed",
				zap.String("run_id", runID), zap.Error(err))
		}
	}

	p.logger.Debug("run event published",
		zap.String("run_id", runID),
		zap.Int("seq", ev.Seq),
		zap.String("type", string(ev.Type)))
	return nil
}
