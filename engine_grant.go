package objperm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/objperm/record"
	"github.com/google/uuid"
)

// Grant adds perms to the record of subject on inst, creating the record if
// needed. Granting bits already held is allowed and still notifies.
func (e *Engine) Grant(ctx context.Context, subject Subject, inst Instance, perms ...string) (Record, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return Record{}, err
	}
	mask, err := e.resolveNames(voc, perms)
	if err != nil {
		e.emitAudit(ctx, auditEventGrant, false, key, 0, 0, 0, err, func() map[string]string {
			return map[string]string{"permissions": fmt.Sprint(perms)}
		})
		return Record{}, err
	}
	return e.grant(ctx, key, inst, mask)
}

// GrantMask is Grant with a precomputed mask. Bits outside the vocabulary
// fail with ErrUndefinedBits.
func (e *Engine) GrantMask(ctx context.Context, subject Subject, inst Instance, mask Mask) (Record, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return Record{}, err
	}
	if err := e.resolveMask(voc, mask); err != nil {
		e.emitAudit(ctx, auditEventGrant, false, key, mask, 0, 0, err, nil)
		return Record{}, err
	}
	return e.grant(ctx, key, inst, mask)
}

func (e *Engine) grant(ctx context.Context, key record.Key, inst Instance, mask Mask) (Record, error) {
	sctx, cancel := e.storeContext(ctx)
	mut, err := e.store.Or(sctx, key, mask)
	cancel()
	if err != nil {
		e.storeFailed(ctx, string(OpGrant), key, err)
		e.emitAudit(ctx, auditEventGrant, false, key, mask, 0, 0, err, nil)
		return Record{}, err
	}

	e.metricInc(MetricGrant)
	e.logger.DebugContext(ctx, "permission granted",
		slog.String("record", key.String()),
		slog.Uint64("requested", mask.Raw()),
		slog.Uint64("previous", mut.Previous.Raw()),
		slog.Uint64("mask", mut.Record.Mask.Raw()),
	)
	e.emitAudit(ctx, auditEventGrant, true, key, mask, mut.Previous, mut.Record.Mask, nil, nil)

	return mut.Record, e.publish(ctx, OpGrant, inst, mut, mask)
}

// Revoke clears perms from the record of subject on inst. Revoking from a
// subject with no record is a no-op: nothing is written and no change is
// published.
func (e *Engine) Revoke(ctx context.Context, subject Subject, inst Instance, perms ...string) (Record, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return Record{}, err
	}
	mask, err := e.resolveNames(voc, perms)
	if err != nil {
		e.emitAudit(ctx, auditEventRevoke, false, key, 0, 0, 0, err, func() map[string]string {
			return map[string]string{"permissions": fmt.Sprint(perms)}
		})
		return Record{}, err
	}
	return e.revoke(ctx, OpRevoke, key, inst, mask)
}

// RevokeMask is Revoke with a precomputed mask.
func (e *Engine) RevokeMask(ctx context.Context, subject Subject, inst Instance, mask Mask) (Record, error) {
	voc, key, err := e.resolve(subject, inst)
	if err != nil {
		return Record{}, err
	}
	if err := e.resolveMask(voc, mask); err != nil {
		e.emitAudit(ctx, auditEventRevoke, false, key, mask, 0, 0, err, nil)
		return Record{}, err
	}
	return e.revoke(ctx, OpRevoke, key, inst, mask)
}

// RevokeAll clears every bit of the record of subject on inst, including
// bits left over from an earlier vocabulary. The published change carries
// an all-ones Requested mask.
func (e *Engine) RevokeAll(ctx context.Context, subject Subject, inst Instance) (Record, error) {
	_, key, err := e.resolve(subject, inst)
	if err != nil {
		return Record{}, err
	}
	return e.revoke(ctx, OpRevokeAll, key, inst, ^Mask(0))
}

func (e *Engine) revoke(ctx context.Context, op ChangeOp, key record.Key, inst Instance, mask Mask) (Record, error) {
	eventType := auditEventRevoke
	if op == OpRevokeAll {
		eventType = auditEventRevokeAll
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	mut, err := e.store.AndNot(sctx, key, mask)
	if err != nil {
		e.storeFailed(ctx, string(op), key, err)
		e.emitAudit(ctx, eventType, false, key, mask, 0, 0, err, nil)
		return Record{}, err
	}

	if !mut.Existed {
		e.metricInc(MetricRevokeMissing)
		e.logger.DebugContext(ctx, "revoke on missing record ignored", slog.String("record", key.String()))
		return Record{Key: key}, nil
	}

	if op == OpRevokeAll {
		e.metricInc(MetricRevokeAll)
	} else {
		e.metricInc(MetricRevoke)
	}

	if e.config.Store.PruneZeroRecords && mut.Record.Mask == 0 {
		// DeleteIfZero keeps any grant that lands after AndNot. A failed
		// prune leaves a zero record, which reads the same as a missing one.
		if _, err := e.store.DeleteIfZero(sctx, key); err != nil {
			e.storeFailed(ctx, "prune", key, err)
		}
	}

	e.logger.DebugContext(ctx, "permission revoked",
		slog.String("op", string(op)),
		slog.String("record", key.String()),
		slog.Uint64("requested", mask.Raw()),
		slog.Uint64("previous", mut.Previous.Raw()),
		slog.Uint64("mask", mut.Record.Mask.Raw()),
	)
	e.emitAudit(ctx, eventType, true, key, mask, mut.Previous, mut.Record.Mask, nil, nil)

	return mut.Record, e.publish(ctx, op, inst, mut, mask)
}

func (e *Engine) publish(ctx context.Context, op ChangeOp, inst Instance, mut record.Mutation, requested Mask) error {
	change := Change{
		ID:        uuid.New(),
		Op:        op,
		Record:    mut.Record,
		Instance:  inst,
		Previous:  mut.Previous,
		Requested: requested,
		At:        time.Now().UTC(),
		Initiator: initiatorFromContext(ctx),
		RequestID: requestIDFromContext(ctx),
	}

	err := e.notifier.Notify(ctx, change)
	if err == nil || !e.config.Notify.PropagateListenerErrors {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrListenerFailed, err)
}
