// Package memory provides an in-memory implementation of the work queue. It
// offers at-least-once delivery without persistence, suitable for tests and
// the single-process standalone binary.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/stationsnap/internal/infra/queue"
	"github.com/ahrav/stationsnap/pkg/common/logger"
)

// ErrClosed is returned when publishing to a closed broker.
var ErrClosed = errors.New("memory broker closed")

// Config tunes redelivery.
type Config struct {
	// MaxDeliveries bounds how often a failing message is handed to a
	// handler. Zero means 5.
	MaxDeliveries int
	// RedeliveryDelay is the pause before a failed message is delivered
	// again.
	RedeliveryDelay time.Duration
}

type message struct {
	topic   string
	key     string
	payload []byte
	// span links the delivery back to the publisher's trace.
	span trace.SpanContext
	// delivered counts failed deliveries so far. It survives a return to
	// pending so MaxDeliveries bounds the message across subscriptions.
	delivered int
}

type topicRoute struct {
	handlers []queue.Handler
	next     int
}

var _ queue.Queue = (*Broker)(nil)

// Broker delivers each message to one subscribed handler on its own
// goroutine. Handlers subscribed to the same topic compete for messages.
// Messages published before anyone subscribes are held until a handler
// arrives.
type Broker struct {
	cfg Config

	mu      sync.Mutex
	routes  map[string]*topicRoute
	pending map[string][]message
	closed  bool

	// inflight counts scheduled deliveries; idle is closed and replaced
	// each time it drops to zero.
	inflight int
	idle     chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc

	logger  *logger.Logger
	metrics queue.Metrics
}

// NewBroker creates an empty broker.
func NewBroker(cfg Config, logger *logger.Logger, metrics queue.Metrics) *Broker {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		cfg:     cfg,
		routes:  make(map[string]*topicRoute),
		pending: make(map[string][]message),
		idle:    make(chan struct{}),
		baseCtx: ctx,
		cancel:  cancel,
		logger:  logger.With("component", "memory_queue"),
		metrics: metrics,
	}
}

// Publish enqueues payload on topic. It returns before any handler runs.
func (b *Broker) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := message{
		topic:   topic,
		key:     key,
		payload: append([]byte(nil), payload...),
		span:    trace.SpanContextFromContext(ctx),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.metrics.IncPublishError(ctx, topic)
		return ErrClosed
	}
	handler, ok := b.pickLocked(topic)
	if !ok {
		b.pending[topic] = append(b.pending[topic], msg)
		b.mu.Unlock()
		b.metrics.IncMessagePublished(ctx, topic)
		return nil
	}
	b.inflight++
	b.mu.Unlock()

	b.metrics.IncMessagePublished(ctx, topic)
	go b.deliver(handler, msg, 1)
	return nil
}

// Subscribe registers the handlers in routes. Handlers are removed when ctx
// is done.
func (b *Broker) Subscribe(ctx context.Context, routes map[string]queue.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for topic, h := range routes {
		if h == nil {
			return errors.New("handler cannot be nil for topic " + topic)
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	var backlog []message
	for topic, h := range routes {
		r, ok := b.routes[topic]
		if !ok {
			r = new(topicRoute)
			b.routes[topic] = r
		}
		r.handlers = append(r.handlers, h)
		backlog = append(backlog, b.pending[topic]...)
		delete(b.pending, topic)
	}
	b.inflight += len(backlog)
	b.mu.Unlock()

	for _, msg := range backlog {
		go b.deliver(routes[msg.topic], msg, msg.delivered+1)
	}

	b.logger.Info(ctx, "subscribed to topics", "topics", len(routes))

	go func() {
		<-ctx.Done()
		b.unsubscribe(routes)
	}()
	return nil
}

func (b *Broker) unsubscribe(routes map[string]queue.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic := range routes {
		r, ok := b.routes[topic]
		if !ok {
			continue
		}
		// Handlers are funcs and cannot be compared, so drop one slot per
		// subscription from the end.
		if len(r.handlers) > 0 {
			r.handlers = r.handlers[:len(r.handlers)-1]
		}
		if len(r.handlers) == 0 {
			delete(b.routes, topic)
		}
	}
}

// pickLocked selects the next handler for topic round-robin.
func (b *Broker) pickLocked(topic string) (queue.Handler, bool) {
	r, ok := b.routes[topic]
	if !ok || len(r.handlers) == 0 {
		return nil, false
	}
	h := r.handlers[r.next%len(r.handlers)]
	r.next++
	return h, true
}

func (b *Broker) deliveryDone() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight--
	if b.inflight == 0 {
		close(b.idle)
		b.idle = make(chan struct{})
	}
}

func (b *Broker) deliver(handler queue.Handler, msg message, attempt int) {
	defer b.deliveryDone()

	ctx := b.baseCtx
	if msg.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, msg.span)
	}
	if ctx.Err() != nil {
		return
	}

	err := handler(ctx, msg.payload)
	if err == nil {
		b.metrics.IncMessageConsumed(ctx, msg.topic)
		return
	}

	b.metrics.IncConsumeError(ctx, msg.topic)
	if attempt >= b.cfg.MaxDeliveries {
		b.metrics.IncDeadLettered(ctx, msg.topic)
		b.logger.Error(ctx, "message exhausted deliveries, dropping",
			"topic", msg.topic,
			"key", msg.key,
			"attempts", attempt,
			"error", err,
		)
		return
	}

	b.logger.Warn(ctx, "handler failed, redelivering",
		"topic", msg.topic,
		"key", msg.key,
		"attempt", attempt,
		"error", err,
	)
	b.metrics.IncRedelivery(ctx, msg.topic)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	next, ok := b.pickLocked(msg.topic)
	if !ok {
		msg.delivered = attempt
		b.pending[msg.topic] = append(b.pending[msg.topic], msg)
		b.mu.Unlock()
		return
	}
	b.inflight++
	b.mu.Unlock()

	select {
	case <-time.After(b.cfg.RedeliveryDelay):
		go b.deliver(next, msg, attempt+1)
	case <-ctx.Done():
		b.deliveryDone()
	}
}

// Drain blocks until every in-flight delivery, including scheduled
// redeliveries, has finished or ctx is done.
func (b *Broker) Drain(ctx context.Context) error {
	b.mu.Lock()
	if b.inflight == 0 {
		b.mu.Unlock()
		return nil
	}
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting messages, cancels in-flight handlers and waits for
// them to return.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	return b.Drain(context.Background())
}
