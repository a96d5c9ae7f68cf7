package events

import (
	"context"
	"log/slog"
	"sync"

	"cinetrack/internal/domain"
	"cinetrack/internal/metrics"
)

// AsyncPublisher hands events to a fixed pool of in-process workers. It is
// used when no NATS server is configured.
type AsyncPublisher struct {
	applier Applier
	queue   chan domain.SearchEvent
	workers int
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewAsyncPublisher(applier Applier, workers, buffer int, logger *slog.Logger) *AsyncPublisher {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncPublisher{
		applier: applier,
		queue:   make(chan domain.SearchEvent, buffer),
		workers: workers,
		logger:  logger,
	}
}

// PublishSearch enqueues event without blocking. It returns ErrQueueFull when
// the buffer is full or the publisher has stopped.
func (p *AsyncPublisher) PublishSearch(_ context.Context, event domain.SearchEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.SearchEventsPublishedTotal.WithLabelValues("async", "dropped").Inc()
		return ErrQueueFull
	}
	select {
	case p.queue <- event:
		metrics.SearchEventsPublishedTotal.WithLabelValues("async", "ok").Inc()
		return nil
	default:
		metrics.SearchEventsPublishedTotal.WithLabelValues("async", "dropped").Inc()
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done and the queued events
// have been applied.
func (p *AsyncPublisher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range p.queue {
				applyEvent(ctx, p.applier, event, p.logger)
			}
		}()
	}

	<-ctx.Done()
	p.mu.Lock()
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	wg.Wait()
	return nil
}
