package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/order-relay/internal/domain"
)

// PublishFunc handles one notification on a pool worker.
type PublishFunc func(ctx context.Context, n domain.Notification) error

// Pool manages a fixed number of worker goroutines that mirror notifications.
type Pool struct {
	numWorkers int
	jobs       chan domain.Notification
	publish    PublishFunc
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, publish PublishFunc, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan domain.Notification, numWorkers*64),
		publish:    publish,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("mirror pool started", "num_workers", p.numWorkers)
}

// Submit queues n without blocking. It reports false when the pool is full
// or stopped.
func (p *Pool) Submit(n domain.Notification) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- n:
		return true
	default:
		return false
	}
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("mirror pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for n := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.publish(ctx, n); err != nil {
			p.logger.Debug("mirror publish failed", "worker", id, "error", err, "order_id", n.OrderID)
		}
	}
}
