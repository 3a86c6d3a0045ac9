package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/order-relay/internal/domain"
)

func TestPool_ProcessesSubmittedNotifications(t *testing.T) {
	var processed atomic.Int32
	p := NewPool(2, func(context.Context, domain.Notification) error {
		processed.Add(1)
		return nil
	}, testLogger())
	p.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.True(t, p.Submit(domain.Notification{Event: domain.EventOrderChange}))
	}

	require.Eventually(t, func() bool { return processed.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
}

func TestPool_SubmitNeverBlocks(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})

	p := NewPool(1, func(context.Context, domain.Notification) error {
		once.Do(func() { close(started) })
		<-gate
		return nil
	}, testLogger())
	p.Start(context.Background())

	require.True(t, p.Submit(domain.Notification{}))
	<-started

	accepted := 0
	for i := 0; i < 200; i++ {
		if p.Submit(domain.Notification{}) {
			accepted++
		}
	}
	assert.Equal(t, cap(p.jobs), accepted, "only the buffer should be accepted while the worker is busy")

	close(gate)
	p.Stop()
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(1, func(context.Context, domain.Notification) error { return nil }, testLogger())
	p.Start(context.Background())
	p.Stop()

	assert.False(t, p.Submit(domain.Notification{}))
	p.Stop()
}
