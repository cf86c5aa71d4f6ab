package objperm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Listener observes persisted permission changes. It runs synchronously on
// the goroutine that performed the mutation.
type Listener func(ctx context.Context, change Change) error

// Subscription identifies a registered [Listener]. The zero value is never
// issued.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Listener
}

// Notifier fans changes out to listeners in registration order. A listener
// that fails or panics is logged and skipped; the remaining listeners still
// run. Listeners may subscribe or unsubscribe from inside a callback; the
// change affects the next notification.
type Notifier struct {
	mu        sync.RWMutex
	next      Subscription
	listeners []subscriber

	logger  *slog.Logger
	metrics *Metrics
}

// NewNotifier creates a [Notifier]. A nil logger uses slog.Default.
func NewNotifier(logger *slog.Logger, metrics *Metrics) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger:  logger,
		metrics: metrics,
	}
}

// Subscribe registers l and returns its handle. A nil listener is ignored
// and yields the zero Subscription.
func (n *Notifier) Subscribe(l Listener) Subscription {
	if l == nil {
		return 0
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.next++
	n.listeners = append(n.listeners, subscriber{id: n.next, fn: l})
	return n.next
}

// Unsubscribe removes the listener registered under id and reports whether
// it was present.
func (n *Notifier) Unsubscribe(id Subscription) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, s := range n.listeners {
		if s.id == id {
			out := make([]subscriber, 0, len(n.listeners)-1)
			out = append(out, n.listeners[:i]...)
			out = append(out, n.listeners[i+1:]...)
			n.listeners = out
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Notify delivers change to every listener and returns their joined
// errors, or nil.
func (n *Notifier) Notify(ctx context.Context, change Change) error {
	n.mu.RLock()
	listeners := n.listeners
	n.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}
	n.metrics.Inc(MetricNotify)

	var errs []error
	for _, s := range listeners {
		if err := n.call(ctx, s, change); err != nil {
			n.metrics.Inc(MetricListenerFailure)
			n.logger.WarnContext(ctx, "permission change listener failed",
				slog.Uint64("subscription", uint64(s.id)),
				slog.String("op", string(change.Op)),
				slog.String("record", change.Record.Key.String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) call(ctx context.Context, s subscriber, change Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %d panicked: %v", s.id, r)
		}
	}()
	return s.fn(ctx, change)
}
