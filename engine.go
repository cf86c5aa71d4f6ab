package objperm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	internalaudit "github.com/MrEthical07/objperm/internal/audit"
	"github.com/MrEthical07/objperm/permission"
	"github.com/MrEthical07/objperm/record"
)

// Engine grants, revokes and checks per-instance permissions. Build one
// with [New]. All methods are safe for concurrent use.
type Engine struct {
	config     Config
	registry   *permission.Registry
	store      record.Store
	membership record.Membership
	notifier   *Notifier
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	closed     atomic.Bool
}

// Close flushes the audit trail. Later calls on the engine fail with
// ErrEngineNotReady.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// AuditDropped returns how many audit events were dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Notifier returns the change notifier.
func (e *Engine) Notifier() *Notifier {
	if e == nil {
		return nil
	}
	return e.notifier
}

// Subscribe is shorthand for e.Notifier().Subscribe(l).
func (e *Engine) Subscribe(l Listener) Subscription {
	return e.notifier.Subscribe(l)
}

// Unsubscribe is shorthand for e.Notifier().Unsubscribe(id).
func (e *Engine) Unsubscribe(id Subscription) bool {
	return e.notifier.Unsubscribe(id)
}

/*
====================================
REGISTRY
====================================
*/

// Register binds entityType to a new vocabulary built from names. A second
// registration of the same type fails with ErrAlreadyRegistered, which
// idempotent setup code may ignore.
func (e *Engine) Register(entityType string, names ...string) (*permission.Vocabulary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	voc, err := e.registry.Register(entityType, names...)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("entity type registered",
		slog.String("entity_type", entityType),
		slog.Any("permissions", voc.Names()),
	)
	return voc, nil
}

// Unregister removes entityType. Later operations on it fail with
// ErrNotRegistered; stored records are left untouched.
func (e *Engine) Unregister(entityType string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.registry.Unregister(entityType); err != nil {
		return err
	}
	e.logger.Debug("entity type unregistered", slog.String("entity_type", entityType))
	return nil
}

// Vocabulary returns the vocabulary bound to entityType.
func (e *Engine) Vocabulary(entityType string) (*permission.Vocabulary, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	voc, err := e.registry.Lookup(entityType)
	if err != nil {
		e.metricInc(MetricNotRegistered)
		return nil, err
	}
	return voc, nil
}

// Types returns the registered entity types, sorted.
func (e *Engine) Types() []string {
	if e == nil || e.registry == nil {
		return nil
	}
	return e.registry.Types()
}

/*
====================================
RESOLUTION
====================================
*/

func (e *Engine) resolve(subject Subject, inst Instance) (*permission.Vocabulary, record.Key, error) {
	if err := e.ready(); err != nil {
		return nil, record.Key{}, err
	}
	if err := subject.Validate(); err != nil {
		return nil, record.Key{}, err
	}
	if inst == nil {
		return nil, record.Key{}, fmt.Errorf("%w: nil instance", ErrInvalidInstance)
	}

	entityType, instanceID := inst.EntityType(), inst.InstanceID()
	if entityType == "" || instanceID == "" {
		return nil, record.Key{}, fmt.Errorf("%w: %q/%q", ErrInvalidInstance, entityType, instanceID)
	}

	voc, err := e.registry.Lookup(entityType)
	if err != nil {
		e.metricInc(MetricNotRegistered)
		return nil, record.Key{}, err
	}

	return voc, record.Key{
		Kind:       subject.Kind,
		SubjectID:  subject.ID,
		EntityType: entityType,
		InstanceID: instanceID,
	}, nil
}

func (e *Engine) resolveNames(voc *permission.Vocabulary, perms []string) (Mask, error) {
	if len(perms) == 0 {
		return 0, ErrEmptyPermissionSet
	}
	mask, err := voc.ToMask(perms...)
	if err != nil {
		e.metricInc(MetricUnknownPermission)
		return 0, err
	}
	return mask, nil
}

func (e *Engine) resolveMask(voc *permission.Vocabulary, mask Mask) error {
	if mask == 0 {
		return ErrEmptyPermissionSet
	}
	if err := voc.Validate(mask); err != nil {
		e.metricInc(MetricUnknownPermission)
		return err
	}
	return nil
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.config.Store.Timeout > 0 {
		return context.WithTimeout(ctx, e.config.Store.Timeout)
	}
	return ctx, func() {}
}

func (e *Engine) storeFailed(ctx context.Context, op string, key record.Key, err error) {
	e.metricInc(MetricStoreFailure)
	e.logger.ErrorContext(ctx, "permission store failure",
		slog.String("op", op),
		slog.String("record", key.String()),
		slog.String("error", err.Error()),
	)
}
