package objperm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/objperm/record"
)

// Check reports whether subject holds perms on inst. CheckAll requires
// every permission, CheckAny at least one. For an actor the masks of its
// groups count as its own. Every call reads the store.
func (e *Engine) Check(ctx context.Context, subject Subject, inst Instance, mode CheckMode, perms ...string) (bool, error) {
	start := time.Now()
	defer e.observeCheck(start)

	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return false, err
	}
	required, err := e.resolveNames(voc, perms)
	if err != nil {
		return false, err
	}
	return e.check(ctx, key, mode, required)
}

// CheckMask is Check with a precomputed mask.
func (e *Engine) CheckMask(ctx context.Context, subject Subject, inst Instance, mode CheckMode, required Mask) (bool, error) {
	start := time.Now()
	defer e.observeCheck(start)

	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return false, err
	}
	if err := e.resolveMask(voc, required); err != nil {
		return false, err
	}
	return e.check(ctx, key, mode, required)
}

// Has reports whether subject holds the single permission perm on inst.
func (e *Engine) Has(ctx context.Context, subject Subject, inst Instance, perm string) (bool, error) {
	return e.Check(ctx, subject, inst, CheckAll, perm)
}

// HasAny reports whether subject holds at least one of perms on inst.
func (e *Engine) HasAny(ctx context.Context, subject Subject, inst Instance, perms ...string) (bool, error) {
	return e.Check(ctx, subject, inst, CheckAny, perms...)
}

// HasAll reports whether subject holds every one of perms on inst.
func (e *Engine) HasAll(ctx context.Context, subject Subject, inst Instance, perms ...string) (bool, error) {
	return e.Check(ctx, subject, inst, CheckAll, perms...)
}

func (e *Engine) check(ctx context.Context, key record.Key, mode CheckMode, required Mask) (bool, error) {
	effective, err := e.effective(ctx, key)
	if err != nil {
		return false, err
	}

	var allowed bool
	if mode == CheckAny {
		allowed = effective.HasAny(required)
	} else {
		allowed = effective.HasAll(required)
	}

	if allowed {
		e.metricInc(MetricCheckAllowed)
		return true, nil
	}

	e.metricInc(MetricCheckDenied)
	if e.config.Audit.RecordDenials {
		e.emitAudit(ctx, auditEventCheckDenied, false, key, required, effective, effective, errDenied, func() map[string]string {
			return map[string]string{"mode": mode.String()}
		})
	}
	return false, nil
}

func (e *Engine) observeCheck(start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(MetricCheckLatency, time.Since(start))
}

// EffectivePermission returns the mask subject effectively holds on inst:
// for an actor its own mask OR the masks of all its groups, for a group its
// own mask. A subject without records yields 0.
func (e *Engine) EffectivePermission(ctx context.Context, subject Subject, inst Instance) (Mask, error) {
	_, key, err := e.resolve(subject, inst)
	if err != nil {
		return 0, err
	}
	return e.effective(ctx, key)
}

// EffectivePermissionNames formats EffectivePermission as names in
// vocabulary order.
func (e *Engine) EffectivePermissionNames(ctx context.Context, subject Subject, inst Instance) ([]string, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return nil, err
	}
	mask, err := e.effective(ctx, key)
	if err != nil {
		return nil, err
	}
	return voc.NameList(mask), nil
}

// EffectivePermissionBits formats EffectivePermission as single-bit masks.
func (e *Engine) EffectivePermissionBits(ctx context.Context, subject Subject, inst Instance) ([]Mask, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return nil, err
	}
	mask, err := e.effective(ctx, key)
	if err != nil {
		return nil, err
	}
	return voc.BitList(mask), nil
}

// EffectivePermissionChoices formats EffectivePermission as (bit, name)
// pairs.
func (e *Engine) EffectivePermissionChoices(ctx context.Context, subject Subject, inst Instance) ([]Choice, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return nil, err
	}
	mask, err := e.effective(ctx, key)
	if err != nil {
		return nil, err
	}
	return voc.ChoiceList(mask), nil
}

// SubjectPermission returns the mask stored on subject's own record,
// without group contributions.
func (e *Engine) SubjectPermission(ctx context.Context, subject Subject, inst Instance) (Mask, error) {
	_, key, err := e.resolve(subject, inst)
	if err != nil {
		return 0, err
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	rec, err := e.store.Get(sctx, key)
	if err != nil {
		e.storeFailed(ctx, "get", key, err)
		return 0, err
	}
	return rec.Mask, nil
}

// Holders returns every actor and group record with a non-zero mask on
// inst, actors first.
func (e *Engine) Holders(ctx context.Context, inst Instance) ([]Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if inst == nil || inst.EntityType() == "" || inst.InstanceID() == "" {
		return nil, fmt.Errorf("%w: missing type or id", ErrInvalidInstance)
	}
	if _, err := e.registry.Lookup(inst.EntityType()); err != nil {
		e.metricInc(MetricNotRegistered)
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	records, err := e.store.ListByInstance(sctx, inst.EntityType(), inst.InstanceID())
	if err != nil {
		e.storeFailed(ctx, "list", record.Key{EntityType: inst.EntityType(), InstanceID: inst.InstanceID()}, err)
		return nil, err
	}

	out := records[:0]
	for _, r := range records {
		if r.Mask != 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine) effective(ctx context.Context, key record.Key) (Mask, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	if key.Kind == KindGroup || e.membership == nil {
		rec, err := e.store.Get(sctx, key)
		if err != nil {
			e.storeFailed(ctx, "get", key, err)
			return 0, err
		}
		return rec.Mask, nil
	}

	groups, err := e.membership.Groups(sctx, key.SubjectID)
	if err != nil {
		e.storeFailed(ctx, "groups", key, err)
		return 0, err
	}

	keys := make([]record.Key, 0, len(groups)+1)
	keys = append(keys, key)
	for _, g := range groups {
		if g == "" {
			continue
		}
		keys = append(keys, record.Key{
			Kind:       KindGroup,
			SubjectID:  g,
			EntityType: key.EntityType,
			InstanceID: key.InstanceID,
		})
	}

	records, err := e.store.GetMany(sctx, keys)
	if err != nil {
		e.storeFailed(ctx, "get_many", key, err)
		return 0, err
	}

	var mask Mask
	for _, r := range records {
		mask |= r.Mask
	}

	e.logger.DebugContext(ctx, "effective permission resolved",
		slog.String("record", key.String()),
		slog.Int("groups", len(groups)),
		slog.Uint64("mask", mask.Raw()),
	)
	return mask, nil
}
