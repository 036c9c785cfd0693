package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// PoolConfig tunes worker concurrency and polling cadence.
type PoolConfig struct {
	WorkerCount        int
	MaxConcurrentEvents int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
}

// DefaultPoolConfig returns reasonable defaults for a single-node daemon.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		WorkerCount:         4,
		MaxConcurrentEvents: 16,
		PollInterval:        2 * time.Second,
		PollIntervalJitter:  500 * time.Millisecond,
	}
}

// Pool runs a fixed number of dispatch workers against a Queue.
type Pool struct {
	queue    *Queue
	config   PoolConfig
	handlers EventTypeHandlers

	mu      sync.RWMutex
	active  int
	stopCh  chan struct{}
	stopOnce sync.Once
	wg      sync.WaitGroup
	started bool
}

// NewPool builds a worker pool dispatching through handlers.
func NewPool(q *Queue, cfg PoolConfig, handlers EventTypeHandlers) *Pool {
	return &Pool{
		queue:    q,
		config:   cfg,
		handlers: handlers,
		stopCh:   make(chan struct{}),
	}
}

// Start spawns the worker goroutines. Safe to call once.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	if n, err := p.queue.Requeue(ctx); err != nil {
		slog.Warn("failed to requeue in-flight events on startup", "error", err)
	} else if n > 0 {
		slog.Info("requeued in-flight events from previous run", "count", n)
	}

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		workerID := fmt.Sprintf("eventqueue-worker-%d", i)
		go p.run(ctx, workerID)
	}
}

// Stop signals every worker to finish its current dispatch and exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()
	log := slog.With("worker_id", workerID)
	log.Info("event queue worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("event queue worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
			if err := p.pollAndDispatch(ctx); err != nil {
				if errors.Is(err, ErrNoEventsAvailable) || errors.Is(err, ErrAtCapacity) {
					p.sleep(p.pollInterval())
					continue
				}
				log.Error("event dispatch failed", "error", err)
				p.sleep(time.Second)
			}
		}
	}
}

func (p *Pool) pollAndDispatch(ctx context.Context) error {
	p.mu.Lock()
	if p.active >= p.config.MaxConcurrentEvents {
		p.mu.Unlock()
		return ErrAtCapacity
	}
	p.active++
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	return p.queue.Dispatch(ctx, p.handlers)
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

func (p *Pool) pollInterval() time.Duration {
	base := p.config.PollInterval
	jitter := p.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
