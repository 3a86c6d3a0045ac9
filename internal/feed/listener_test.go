package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Priya8975/order-relay/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type subscribeResult struct {
	sub *fakeSub
	err error
}

type fakeSource struct {
	results chan subscribeResult
	calls   atomic.Int32

	mu sync.Mutex
	// staleOpen is set if Subscribe ran while a previous subscription was
	// still open.
	staleOpen bool
	opened    []*fakeSub
}

func newFakeSource() *fakeSource {
	return &fakeSource{results: make(chan subscribeResult)}
}

func (s *fakeSource) Subscribe(ctx context.Context) (Subscription, error) {
	s.calls.Add(1)

	s.mu.Lock()
	for _, prev := range s.opened {
		if !prev.isClosed() {
			s.staleOpen = true
		}
	}
	s.mu.Unlock()

	select {
	case r := <-s.results:
		if r.err != nil {
			return nil, r.err
		}
		s.mu.Lock()
		s.opened = append(s.opened, r.sub)
		s.mu.Unlock()
		return r.sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// offer hands the next Subscribe call its result, failing the test if the
// listener never asks for one.
func (s *fakeSource) offer(t *testing.T, r subscribeResult) {
	t.Helper()
	select {
	case s.results <- r:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not subscribe")
	}
}

type fakeSub struct {
	payloads chan []byte
	errs     chan error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		payloads: make(chan []byte),
		errs:     make(chan error),
		closed:   make(chan struct{}),
	}
}

func (f *fakeSub) Next(ctx context.Context) ([]byte, error) {
	select {
	case p := <-f.payloads:
		return p, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, ErrFeedClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSub) Close(context.Context) error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSub) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeSub) send(t *testing.T, payload string) {
	t.Helper()
	select {
	case f.payloads <- []byte(payload):
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not read the notification")
	}
}

func (f *fakeSub) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case f.errs <- err:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not waiting on the subscription")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	src    *fakeSource
	clk    *testclock.Clock
	l      *Listener
	events chan domain.ChangeEvent
	cancel context.CancelFunc
	done   chan error
}

func startListener(t *testing.T, cfg Config, handler Handler) *harness {
	t.Helper()

	h := &harness{
		src:    newFakeSource(),
		clk:    testclock.NewClock(time.Now()),
		events: make(chan domain.ChangeEvent, 16),
		done:   make(chan error, 1),
	}
	if handler == nil {
		handler = func(_ context.Context, ev domain.ChangeEvent) { h.events <- ev }
	}
	h.l = NewListener(h.src, handler, h.clk, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.l.Run(ctx) }()

	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.l.State() == s }, 2*time.Second, 5*time.Millisecond,
		"state stayed %s, want %s", h.l.State(), s)
}

func (h *harness) nextEvent(t *testing.T) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
		return domain.ChangeEvent{}
	}
}

const insertA1 = `{"operation":"INSERT","data":{"order_id":"A1","status":"pending_payment","payment_status":"pending"}}`
const updateB2 = `{"operation":"UPDATE","data":{"order_id":"B2","status":"accepted"},"old_data":{"order_id":"B2","status":"pending"}}`

func TestListener_DeliversEventsAndDropsMalformed(t *testing.T) {
	h := startListener(t, Config{ReconnectDelay: 5 * time.Second}, nil)

	sub := newFakeSub()
	h.src.offer(t, subscribeResult{sub: sub})
	h.waitState(t, StateListening)

	sub.send(t, `{{not json`)
	sub.send(t, `{"operation":"MERGE","data":{}}`)
	sub.send(t, insertA1)

	ev := h.nextEvent(t)
	assert.Equal(t, domain.OpInsert, ev.Operation)
	assert.Equal(t, "A1", ev.Data.OrderID())

	// Malformed payloads do not tear the subscription down.
	assert.Equal(t, StateListening, h.l.State())
	assert.Equal(t, int32(1), h.src.calls.Load())
}

func TestListener_ReconnectsAfterFailure(t *testing.T) {
	h := startListener(t, Config{ReconnectDelay: 5 * time.Second}, nil)

	sub1 := newFakeSub()
	h.src.offer(t, subscribeResult{sub: sub1})
	h.waitState(t, StateListening)
	sub1.send(t, insertA1)
	h.nextEvent(t)

	sub1.fail(t, errors.New("connection reset by peer"))
	h.waitState(t, StateDisconnected)
	assert.True(t, sub1.isClosed(), "failed subscription should be closed before waiting")

	require.NoError(t, h.clk.WaitAdvance(5*time.Second, 2*time.Second, 1))

	sub2 := newFakeSub()
	h.src.offer(t, subscribeResult{sub: sub2})
	h.waitState(t, StateListening)

	sub2.send(t, updateB2)
	ev := h.nextEvent(t)
	assert.Equal(t, "B2", ev.Data.OrderID())

	h.src.mu.Lock()
	assert.False(t, h.src.staleOpen, "a stale subscription was still open when reconnecting")
	h.src.mu.Unlock()
}

func TestListener_StateTransitions(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)

	src := newFakeSource()
	clk := testclock.NewClock(time.Now())
	l := NewListener(src, func(context.Context, domain.ChangeEvent) {}, clk, Config{ReconnectDelay: time.Second}, discardLogger())
	l.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	sub := newFakeSub()
	src.offer(t, subscribeResult{sub: sub})
	require.Eventually(t, func() bool { return l.State() == StateListening }, 2*time.Second, 5*time.Millisecond)

	sub.fail(t, errors.New("boom"))
	require.Eventually(t, func() bool { return l.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, l.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateConnecting,
		StateListening,
		StateError,
		StateDisconnected,
		StateClosed,
	}, states)
}

func TestListener_CleanEndIsClosedNotError(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)

	src := newFakeSource()
	clk := testclock.NewClock(time.Now())
	l := NewListener(src, func(context.Context, domain.ChangeEvent) {}, clk, Config{ReconnectDelay: time.Second}, discardLogger())
	l.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	sub := newFakeSub()
	src.offer(t, subscribeResult{sub: sub})
	require.Eventually(t, func() bool { return l.State() == StateListening }, 2*time.Second, 5*time.Millisecond)

	sub.fail(t, ErrFeedClosed)
	require.Eventually(t, func() bool { return l.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, StateError)
	assert.Contains(t, states, StateClosed)
}

// expectDelay asserts the listener reconnects after exactly d on the test
// clock and hands it the given result.
func expectDelay(t *testing.T, h *harness, d time.Duration, r subscribeResult) {
	t.Helper()

	before := h.src.calls.Load()
	require.NoError(t, h.clk.WaitAdvance(d-time.Millisecond, 2*time.Second, 1))
	require.Never(t, func() bool { return h.src.calls.Load() != before }, 50*time.Millisecond, 5*time.Millisecond,
		"reconnected before %s elapsed", d)

	require.NoError(t, h.clk.WaitAdvance(time.Millisecond, 2*time.Second, 1))
	h.src.offer(t, r)
}

func TestListener_BackoffDoublesUpToMax(t *testing.T) {
	h := startListener(t, Config{ReconnectDelay: time.Second, MaxReconnectDelay: 4 * time.Second}, nil)
	refused := subscribeResult{err: errors.New("connection refused")}

	h.src.offer(t, refused)
	expectDelay(t, h, 1*time.Second, refused)
	expectDelay(t, h, 2*time.Second, refused)
	expectDelay(t, h, 4*time.Second, refused)
	expectDelay(t, h, 4*time.Second, refused)
}

func TestListener_BackoffResetsAfterListening(t *testing.T) {
	h := startListener(t, Config{ReconnectDelay: time.Second, MaxReconnectDelay: 8 * time.Second}, nil)
	refused := subscribeResult{err: errors.New("connection refused")}

	h.src.offer(t, refused)
	expectDelay(t, h, 1*time.Second, refused)

	sub := newFakeSub()
	expectDelay(t, h, 2*time.Second, subscribeResult{sub: sub})
	h.waitState(t, StateListening)

	sub.fail(t, errors.New("server closed the connection unexpectedly"))
	expectDelay(t, h, 1*time.Second, refused)
}

func TestListener_FixedDelayByDefault(t *testing.T) {
	h := startListener(t, Config{}, nil)
	refused := subscribeResult{err: errors.New("connection refused")}

	h.src.offer(t, refused)
	expectDelay(t, h, 5*time.Second, refused)
	expectDelay(t, h, 5*time.Second, refused)
}

func TestListener_StopsDuringBackoff(t *testing.T) {
	h := startListener(t, Config{ReconnectDelay: time.Minute}, nil)

	h.src.offer(t, subscribeResult{err: errors.New("connection refused")})
	h.waitState(t, StateDisconnected)

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop while waiting to reconnect")
	}
	assert.Equal(t, StateClosed, h.l.State())
}

func TestListener_StopClosesSubscription(t *testing.T) {
	h := startListener(t, Config{}, nil)

	sub := newFakeSub()
	h.src.offer(t, subscribeResult{sub: sub})
	h.waitState(t, StateListening)

	h.stop(t)
	assert.True(t, sub.isClosed())
	assert.Equal(t, StateClosed, h.l.State())
}

func TestListener_HandlerPanicDoesNotStopFeed(t *testing.T) {
	events := make(chan domain.ChangeEvent, 4)
	handler := func(_ context.Context, ev domain.ChangeEvent) {
		if ev.Data.OrderID() == "A1" {
			panic("bad handler")
		}
		events <- ev
	}
	h := startListener(t, Config{}, handler)

	sub := newFakeSub()
	h.src.offer(t, subscribeResult{sub: sub})
	h.waitState(t, StateListening)

	sub.send(t, insertA1)
	sub.send(t, updateB2)

	select {
	case ev := <-events:
		assert.Equal(t, "B2", ev.Data.OrderID())
	case <-time.After(2 * time.Second):
		t.Fatal("event after panic was not delivered")
	}
	assert.Equal(t, int32(1), h.src.calls.Load())
}
