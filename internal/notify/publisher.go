// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/mongotrack/internal/change"
	"github.com/tomtom215/mongotrack/internal/config"
	"github.com/tomtom215/mongotrack/internal/logging"
	"github.com/tomtom215/mongotrack/internal/metrics"
)

// Message metadata keys.
const (
	MetadataCollection    = "collection"
	MetadataPath          = "path"
	MetadataCorrelationID = "correlation_id"
)

// BreakerSettings configures the circuit breaker around publishing.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
}

// EventPublisher publishes drained changes as watermill messages behind a
// circuit breaker. It implements Publisher.
type EventPublisher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker[struct{}]
	prefix    string

	mu     sync.RWMutex
	closed bool
}

// NewEventPublisher wraps pub. Topics are <prefix>.<collection>.<path>.
func NewEventPublisher(pub message.Publisher, prefix string, bs BreakerSettings) *EventPublisher {
	return &EventPublisher{
		publisher: pub,
		breaker:   newBreaker(bs),
		prefix:    prefix,
	}
}

func newBreaker(bs BreakerSettings) *gobreaker.CircuitBreaker[struct{}] {
	if bs.Name == "" {
		bs.Name = "change-events"
	}
	if bs.FailureThreshold == 0 {
		bs.FailureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    bs.Name,
		Timeout: bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bs.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String(), int(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
}

// Publish sends one message per change. Every change is attempted; the
// errors are joined.
func (p *EventPublisher) Publish(ctx context.Context, changes []change.Change) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	correlationID := logging.CorrelationIDFromContext(ctx)
	var errs []error
	for _, c := range changes {
		if err := p.publishOne(ctx, c, correlationID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *EventPublisher) publishOne(ctx context.Context, c change.Change, correlationID string) error {
	ev := NewChangeEvent(c)
	if ev.CorrelationID == "" {
		ev.CorrelationID = correlationID
	}
	data, err := ev.Marshal()
	if err != nil {
		metrics.RecordEventPublishError(c.Collection, "marshal")
		return err
	}

	msg := message.NewMessage(ev.EventID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataCollection, ev.Collection)
	msg.Metadata.Set(MetadataPath, ev.Path)
	msg.Metadata.Set(MetadataCorrelationID, ev.CorrelationID)
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.EventID)

	topic := ev.Topic(p.prefix)
	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(topic, msg)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordCircuitBreakerRequest(p.breaker.Name(), "rejected")
		metrics.RecordEventPublishError(c.Collection, "circuit_open")
		return fmt.Errorf("publish %s: %w", topic, err)
	case err != nil:
		metrics.RecordCircuitBreakerRequest(p.breaker.Name(), "failure")
		metrics.RecordEventPublishError(c.Collection, "publish")
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.RecordCircuitBreakerRequest(p.breaker.Name(), "success")
	metrics.RecordEventPublished(c.Collection)
	return nil
}

// State returns the circuit breaker state.
func (p *EventPublisher) State() gobreaker.State {
	return p.breaker.State()
}

// Close closes the underlying publisher. Later Publish calls fail with
// ErrPublisherClosed.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// NewNATSPublisher connects a watermill NATS publisher configured by cfg.
// JetStream streams are provisioned on first publish when enabled.
func NewNATSPublisher(cfg config.PublisherConfig, logger watermill.LoggerAdapter) (*EventPublisher, error) {
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      !cfg.JetStream,
			AutoProvision: cfg.JetStream,
			TrackMsgId:    cfg.JetStream,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return NewEventPublisher(pub, cfg.TopicPrefix, BreakerSettings{
		Name:             "nats-publisher",
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
	}), nil
}
