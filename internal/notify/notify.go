// Package notify delivers best-effort messages to clients. Nothing here may block
// or fail the payment and rental workflows that produce the messages.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/metrics"
)

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// Fanout sends every notification to all channels and reports the joined errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, ch := range f {
		if err := ch.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to the application log. Used when no channel is configured.
type Log struct{}

func (Log) Notify(ctx context.Context, n domain.Notification) error {
	logger.InfoContext(ctx, "Client notification", "kind", n.Kind, "client_id", n.ClientID, "title", n.Title)
	return nil
}

// Async queues notifications for a pool of workers. Notify never blocks: when the
// queue is full the notification is dropped and counted.
type Async struct {
	next    Notifier
	queue   chan domain.Notification
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Notifier, buffer, workers int, timeout time.Duration) *Async {
	if workers < 1 {
		workers = 1
	}
	a := &Async{
		next:    next,
		queue:   make(chan domain.Notification, buffer),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

func (a *Async) Notify(ctx context.Context, n domain.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.NotificationsDropped.WithLabelValues("closed").Inc()
		return nil
	}
	select {
	case a.queue <- n:
	default:
		metrics.NotificationsDropped.WithLabelValues("queue_full").Inc()
		logger.Warn("Notification queue full, dropping", "kind", n.Kind, "client_id", n.ClientID)
	}
	return nil
}

func (a *Async) work() {
	defer a.wg.Done()
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, n); err != nil {
			metrics.NotificationsDropped.WithLabelValues("delivery_failed").Inc()
			logger.Warn("Notification delivery failed", "kind", n.Kind, "client_id", n.ClientID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for queued ones until ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
