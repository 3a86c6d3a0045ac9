package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Priya8975/order-relay/internal/domain"
	"github.com/Priya8975/order-relay/internal/engine"
	"github.com/Priya8975/order-relay/internal/metrics"
)

// OrderStore is the slice of the order store the sweeper needs.
type OrderStore interface {
	ListUnnotifiedPaid(ctx context.Context) ([]domain.Order, error)
	MarkNotified(ctx context.Context, id int64) error
}

// Publisher queues notifications for delivery.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Sweeper periodically finds paid orders nobody was told about and announces
// them. It covers payment confirmations committed while the feed listener was
// disconnected.
type Sweeper struct {
	store     OrderStore
	publisher Publisher
	clock     clock.Clock
	interval  time.Duration
	logger    *slog.Logger
}

func NewSweeper(store OrderStore, publisher Publisher, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Sweeper{
		store:     store,
		publisher: publisher,
		clock:     clk,
		interval:  interval,
		logger:    logger,
	}
}

// Start runs Sweep every interval until ctx is cancelled. Should be called as
// a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("reconciliation sweeper started", "interval", s.interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweeper stopping")
			return
		case <-s.clock.After(s.interval):
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep announces every paid, pending, unnotified order and flags it as
// notified. An order whose notifications could not all be queued stays
// unflagged and is retried on the next run. A store error abandons the run.
// It returns how many orders were reconciled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ReconciliationSweep", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	orders, err := s.store.ListUnnotifiedPaid(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list unnotified orders")
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("listing unnotified paid orders: %w", err)
	}
	span.SetAttributes(attribute.Int("sweep.candidates", len(orders)))

	reconciled := 0
	for _, order := range orders {
		if err := s.announce(ctx, order); err != nil {
			s.logger.Warn("reconciliation publish failed, will retry",
				"error", err,
				"order_id", order.OrderID,
			)
			continue
		}

		if err := s.store.MarkNotified(ctx, order.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "mark order notified")
			span.SetAttributes(attribute.Int("sweep.reconciled", reconciled))
			metrics.SweepRunsTotal.WithLabelValues("error").Inc()
			metrics.SweepOrdersReconciledTotal.Add(float64(reconciled))
			return reconciled, fmt.Errorf("marking order %s notified: %w", order.OrderID, err)
		}

		reconciled++
		s.logger.Info("payment confirmation reconciled", "order_id", order.OrderID)
	}

	span.SetAttributes(attribute.Int("sweep.reconciled", reconciled))
	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	metrics.SweepOrdersReconciledTotal.Add(float64(reconciled))

	return reconciled, nil
}

func (s *Sweeper) announce(ctx context.Context, order domain.Order) error {
	for _, n := range engine.PaymentConfirmed(order) {
		if err := s.publisher.Publish(ctx, n); err != nil {
			return err
		}
	}
	return nil
}
