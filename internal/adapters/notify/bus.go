package notify

import (
	"context"
	"sync"
	"time"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"

	"go.uber.org/zap"
)

// Listener handles one status change.
type Listener func(ctx context.Context, change domain.StatusChange) error

// Bus fans status changes out to its listeners asynchronously. Publishing
// never blocks on a listener and never fails; listener errors are logged.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *zap.Logger
	timeout   time.Duration
	wg        sync.WaitGroup
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, timeout: time.Minute}
}

var _ ports.Notifier = (*Bus)(nil)

func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// NotifyStatusChange always returns nil; delivery happens in the background
// on a context detached from the caller's.
func (b *Bus) NotifyStatusChange(_ context.Context, change domain.StatusChange) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, l := range b.listeners {
		b.wg.Add(1)
		go func(l Listener) {
			defer b.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
			defer cancel()

			if err := l(ctx, change); err != nil {
				b.logger.Error("status change listener failed",
					zap.String("entity", change.Entity),
					zap.String("entity_id", change.EntityID),
					zap.String("status", change.Status),
					zap.Error(err),
				)
			}
		}(l)
	}
	return nil
}

// Wait blocks until every dispatched notification has been handled.
func (b *Bus) Wait() { b.wg.Wait() }

// LogListener records every change in the log.
func LogListener(logger *zap.Logger) Listener {
	return func(_ context.Context, change domain.StatusChange) error {
		logger.Info("status changed",
			zap.String("entity", change.Entity),
			zap.String("entity_id", change.EntityID),
			zap.String("user_id", change.UserID),
			zap.String("branch_id", change.BranchID),
			zap.String("status", change.Status),
		)
		return nil
	}
}
