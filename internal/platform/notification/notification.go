// Package notification fans billing events out to downstream consumers
// (cashier desk, TPA portal, finance) once the change that caused them has
// committed. Delivery is asynchronous and at-least-once; the event ID is the
// idempotency key consumers deduplicate on.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
)

// Event types emitted by the billing domains.
const (
	BillFinalized   = "bill.finalized"
	BillCancelled   = "bill.cancelled"
	PaymentReceived = "payment.received"
	PreAuthDecided  = "preauth.decided"
	PreAuthFollowUp = "preauth.follow_up"
	ClaimSubmitted  = "claim.submitted"
	ClaimDecided    = "claim.decided"
	ClaimSettled    = "claim.settled"
	ClaimFollowUp   = "claim.follow_up"
	ClaimMessage    = "claim.message"
)

// Event is a single fire-and-forget notification.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Tenant        string          `json:"tenant,omitempty"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewEvent builds an event with a fresh ID. A payload that cannot be
// marshalled is dropped rather than failing the business operation.
func NewEvent(eventType, aggregateType, aggregateID string, payload interface{}) Event {
	evt := Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	return evt
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Sink delivers one event to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// DispatcherConfig tunes the delivery queue.
type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	AttemptTimeout time.Duration
}

// Dispatcher queues events in memory and delivers them to every sink from
// a small worker pool.
type Dispatcher struct {
	cfg     DispatcherConfig
	sinks   []Sink
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	wg     sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, logger zerolog.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		cfg:     cfg,
		sinks:   sinks,
		logger:  logger,
		metrics: m,
		queue:   make(chan Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish enqueues evt. A full queue drops the event and logs it; callers
// never wait on delivery.
func (d *Dispatcher) Publish(ctx context.Context, evt Event) {
	if evt.Tenant == "" {
		evt.Tenant = db.TenantFromContext(ctx)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("event_id", evt.ID).Str("type", evt.Type).Msg("notification after shutdown dropped")
		return
	}
	select {
	case d.queue <- evt:
		d.metrics.SetQueueDepth(len(d.queue))
	default:
		d.metrics.NotificationDropped()
		d.logger.Warn().Str("event_id", evt.ID).Str("type", evt.Type).Msg("notification queue full, event dropped")
	}
}

// Close stops accepting events and waits for queued ones to drain or for
// ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for evt := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		for _, s := range d.sinks {
			d.deliver(s, evt)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, evt Event) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	b := backoff.WithMaxRetries(policy, uint64(d.cfg.MaxAttempts-1))

	err := backoff.RetryNotify(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.AttemptTimeout)
		defer cancel()
		err := s.Send(ctx, evt)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		d.logger.Debug().Err(err).Str("sink", s.Name()).Str("event_id", evt.ID).Dur("wait", wait).Msg("retrying notification")
	})

	d.metrics.NotificationDelivered(s.Name(), err == nil)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("sink", s.Name()).
			Str("event_id", evt.ID).
			Str("type", evt.Type).
			Str("aggregate_id", evt.AggregateID).
			Msg("notification delivery failed")
	}
}
