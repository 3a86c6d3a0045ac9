package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/Priya8975/order-relay/internal/domain"
	"github.com/Priya8975/order-relay/internal/metrics"
)

// State of the listener's connection to the change feed.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateError        State = "error"
	StateClosed       State = "closed"
)

var allStates = []State{StateDisconnected, StateConnecting, StateListening, StateError, StateClosed}

// ErrFeedClosed is returned by a Subscription whose feed ended cleanly.
var ErrFeedClosed = errors.New("change feed closed")

const closeTimeout = 5 * time.Second

// Source opens subscriptions to the change feed.
type Source interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription is one live connection to the change feed.
type Subscription interface {
	// Next blocks until a raw notification payload arrives.
	Next(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Handler receives every successfully parsed change event.
type Handler func(ctx context.Context, ev domain.ChangeEvent)

type Config struct {
	// ReconnectDelay is the wait before the first reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the doubling delay between failed attempts.
	// Equal to ReconnectDelay (the default) gives a fixed interval.
	MaxReconnectDelay time.Duration
}

// Listener keeps exactly one subscription to the change feed alive and
// forwards parsed events to its handler. Delivery is at-most-once per
// connection epoch: events committed while disconnected are not replayed.
type Listener struct {
	source  Source
	handler Handler
	clock   clock.Clock
	logger  *slog.Logger

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	mu            sync.RWMutex
	state         State
	current       Subscription
	onStateChange func(State)
}

func NewListener(source Source, handler Handler, clk clock.Clock, cfg Config, logger *slog.Logger) *Listener {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if clk == nil {
		clk = clock.WallClock
	}

	return &Listener{
		source:            source,
		handler:           handler,
		clock:             clk,
		logger:            logger,
		reconnectDelay:    cfg.ReconnectDelay,
		maxReconnectDelay: cfg.MaxReconnectDelay,
		state:             StateDisconnected,
	}
}

// OnStateChange registers a hook called on every state transition. It must
// be set before Run.
func (l *Listener) OnStateChange(fn func(State)) {
	l.onStateChange = fn
}

// State returns the listener's current state.
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()

	if prev == s {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		metrics.FeedListenerState.WithLabelValues(string(st)).Set(v)
	}
	l.logger.Debug("change feed listener state", "from", prev, "to", s)
	if l.onStateChange != nil {
		l.onStateChange(s)
	}
}

// Run is the supervisor loop. It connects, listens until the subscription
// fails, then waits out the reconnect delay and starts over. It returns nil
// once ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.reconnectDelay

	for {
		listened, err := l.listenOnce(ctx)
		l.closeCurrent(ctx)

		if ctx.Err() != nil {
			l.setState(StateClosed)
			l.logger.Info("change feed listener stopped")
			return nil
		}

		if err == nil || errors.Is(err, ErrFeedClosed) || errors.Is(err, io.EOF) {
			l.logger.Warn("change feed subscription ended")
			l.setState(StateClosed)
		} else {
			l.logger.Error("change feed subscription failed", "error", err)
			l.setState(StateError)
		}

		if listened {
			delay = l.reconnectDelay
		}

		l.setState(StateDisconnected)
		metrics.FeedReconnectsTotal.Inc()
		l.logger.Info("change feed reconnect scheduled", "delay", delay.String())

		select {
		case <-ctx.Done():
			l.setState(StateClosed)
			l.logger.Info("change feed listener stopped")
			return nil
		case <-l.clock.After(delay):
		}

		if !listened {
			delay *= 2
			if delay > l.maxReconnectDelay {
				delay = l.maxReconnectDelay
			}
		}
	}
}

// listenOnce opens a subscription and pumps it until it fails. listened
// reports whether the subscription got as far as LISTENING.
func (l *Listener) listenOnce(ctx context.Context) (listened bool, err error) {
	l.closeCurrent(ctx)
	l.setState(StateConnecting)

	sub, err := l.source.Subscribe(ctx)
	if err != nil {
		return false, fmt.Errorf("subscribing to change feed: %w", err)
	}

	l.mu.Lock()
	l.current = sub
	l.mu.Unlock()

	l.setState(StateListening)
	l.logger.Info("change feed listening")

	for {
		payload, err := sub.Next(ctx)
		if err != nil {
			return true, fmt.Errorf("waiting for notification: %w", err)
		}

		ev, err := ParseChangeEvent(payload)
		if err != nil {
			metrics.FeedNotificationsTotal.WithLabelValues("malformed").Inc()
			l.logger.Warn("dropping change feed notification", "error", err, "payload_bytes", len(payload))
			continue
		}

		metrics.FeedNotificationsTotal.WithLabelValues("ok").Inc()
		l.logger.Debug("change feed notification",
			"operation", ev.Operation,
			"order_id", ev.Data.OrderID(),
		)
		l.handle(ctx, ev)
	}
}

func (l *Listener) handle(ctx context.Context, ev domain.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("change event handler panicked",
				"panic", fmt.Sprint(r),
				"operation", ev.Operation,
				"order_id", ev.Data.OrderID(),
			)
		}
	}()
	l.handler(ctx, ev)
}

// closeCurrent closes the active subscription, if any. Close errors are
// logged and otherwise ignored.
func (l *Listener) closeCurrent(ctx context.Context) {
	l.mu.Lock()
	sub := l.current
	l.current = nil
	l.mu.Unlock()

	if sub == nil {
		return
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := sub.Close(closeCtx); err != nil {
		l.logger.Debug("closing stale change feed subscription", "error", err)
	}
}
