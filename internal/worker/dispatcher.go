package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Priya8975/order-relay/internal/domain"
	"github.com/Priya8975/order-relay/internal/engine"
	"github.com/Priya8975/order-relay/internal/feed"
	"github.com/Priya8975/order-relay/internal/metrics"
)

// ErrQueueFull is returned by Publish when the notification could not be
// queued before the publish timeout.
var ErrQueueFull = errors.New("dispatch queue full")

const tracerName = "order-relay/worker"

// Deliverer fans a notification out to the sessions in a room.
type Deliverer interface {
	Emit(room, event string, payload any) int
}

// Mirror receives a copy of every delivered notification. Submit must not
// block.
type Mirror interface {
	Submit(n domain.Notification) bool
}

// Dispatcher serializes notifications from the feed listener and the
// reconciliation sweeper onto a single consumer that hands them to the hub.
type Dispatcher struct {
	queue          chan domain.Notification
	deliverer      Deliverer
	mirror         Mirror
	publishTimeout time.Duration
	logger         *slog.Logger
}

func NewDispatcher(deliverer Deliverer, queueSize int, publishTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if publishTimeout <= 0 {
		publishTimeout = 2 * time.Second
	}
	return &Dispatcher{
		queue:          make(chan domain.Notification, queueSize),
		deliverer:      deliverer,
		publishTimeout: publishTimeout,
		logger:         logger,
	}
}

// WithMirror copies every delivered notification to m.
func (d *Dispatcher) WithMirror(m Mirror) *Dispatcher {
	d.mirror = m
	return d
}

// Publish queues n for delivery. It gives up with ErrQueueFull once the
// publish timeout elapses, or with ctx's error if ctx ends first.
func (d *Dispatcher) Publish(ctx context.Context, n domain.Notification) error {
	select {
	case d.queue <- n:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
	}

	timer := time.NewTimer(d.publishTimeout)
	defer timer.Stop()

	select {
	case d.queue <- n:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-timer.C:
		metrics.NotificationsRejectedTotal.Inc()
		return fmt.Errorf("%w: %s to %s", ErrQueueFull, n.Event, n.Room)
	case <-ctx.Done():
		metrics.NotificationsRejectedTotal.Inc()
		return ctx.Err()
	}
}

// Run consumes the queue until ctx is cancelled, then delivers whatever is
// still queued before returning. Should be called as a goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "queue_size", cap(d.queue))

	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			return
		case n := <-d.queue:
			metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	pending := len(d.queue)
	d.logger.Info("dispatcher stopping", "pending", pending)

	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			metrics.DispatchQueueDepth.Set(0)
			if pending > 0 {
				d.logger.Info("dispatcher drained", "delivered", pending)
			}
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) {
	_, span := otel.Tracer(tracerName).Start(ctx, "Dispatch", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("notification.room", n.Room),
		attribute.String("notification.event", n.Event),
		attribute.String("order.id", n.OrderID),
	)

	defer func() {
		if r := recover(); r != nil {
			span.SetStatus(codes.Error, "delivery panicked")
			d.logger.Error("notification delivery panicked",
				"panic", fmt.Sprint(r),
				"event", n.Event,
				"room", n.Room,
				"order_id", n.OrderID,
			)
		}
	}()

	sessions := d.deliverer.Emit(n.Room, n.Event, n.Payload)
	span.SetAttributes(attribute.Int("notification.sessions", sessions))
	metrics.NotificationsDispatchedTotal.WithLabelValues(n.Event).Inc()

	d.logger.Debug("notification dispatched",
		"event", n.Event,
		"room", n.Room,
		"order_id", n.OrderID,
		"sessions", sessions,
	)

	if d.mirror != nil && !d.mirror.Submit(n) {
		metrics.MirrorPublishTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("mirror pool full, notification not mirrored", "event", n.Event, "order_id", n.OrderID)
	}
}

// FeedHandler classifies each change event and publishes the resulting
// notifications. A notification that cannot be queued is logged and dropped.
func FeedHandler(d *Dispatcher, logger *slog.Logger) feed.Handler {
	return func(ctx context.Context, ev domain.ChangeEvent) {
		for _, n := range engine.Classify(ev) {
			if err := d.Publish(ctx, n); err != nil {
				logger.Error("failed to publish notification",
					"error", err,
					"event", n.Event,
					"room", n.Room,
					"order_id", n.OrderID,
				)
			}
		}
	}
}
