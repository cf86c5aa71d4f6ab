package objperm

import (
	"context"
)

// Binding is a capability handle for one subject on one entity type. It
// addresses instances by ID and forwards to the engine.
type Binding struct {
	engine     *Engine
	subject    Subject
	entityType string
}

// Bind returns a [Binding] of subject to entityType. The type must be
// registered at bind time; a later Unregister makes the binding's calls
// fail with ErrNotRegistered.
func (e *Engine) Bind(subject Subject, entityType string) (*Binding, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	if _, err := e.Vocabulary(entityType); err != nil {
		return nil, err
	}
	return &Binding{
		engine:     e,
		subject:    subject,
		entityType: entityType,
	}, nil
}

// Subject returns the subject the binding acts for.
func (b *Binding) Subject() Subject { return b.subject }

// EntityType returns the bound entity type.
func (b *Binding) EntityType() string { return b.entityType }

func (b *Binding) ref(id string) Ref { return Ref{Type: b.entityType, ID: id} }

// Grant adds perms to the subject's record on instanceID. See [Engine.Grant].
func (b *Binding) Grant(ctx context.Context, instanceID string, perms ...string) (Record, error) {
	return b.engine.Grant(ctx, b.subject, b.ref(instanceID), perms...)
}

// Revoke removes perms from the subject's record on instanceID. Revoking from
// a missing record is a no-op.
func (b *Binding) Revoke(ctx context.Context, instanceID string, perms ...string) (Record, error) {
	return b.engine.Revoke(ctx, b.subject, b.ref(instanceID), perms...)
}

// RevokeAll clears every permission the subject holds directly on
// instanceID.
func (b *Binding) RevokeAll(ctx context.Context, instanceID string) (Record, error) {
	return b.engine.RevokeAll(ctx, b.subject, b.ref(instanceID))
}

// Has reports whether the subject, directly or through a group, holds perm
// on instanceID.
func (b *Binding) Has(ctx context.Context, instanceID string, perm string) (bool, error) {
	return b.engine.Has(ctx, b.subject, b.ref(instanceID), perm)
}

// HasAny reports whether the subject holds at least one of perms.
func (b *Binding) HasAny(ctx context.Context, instanceID string, perms ...string) (bool, error) {
	return b.engine.HasAny(ctx, b.subject, b.ref(instanceID), perms...)
}

// HasAll reports whether the subject holds every one of perms.
func (b *Binding) HasAll(ctx context.Context, instanceID string, perms ...string) (bool, error) {
	return b.engine.HasAll(ctx, b.subject, b.ref(instanceID), perms...)
}

// Permission returns the effective mask on instanceID.
func (b *Binding) Permission(ctx context.Context, instanceID string) (Mask, error) {
	return b.engine.EffectivePermission(ctx, b.subject, b.ref(instanceID))
}

// PermissionNames returns the names of the effective permissions in bit
// order.
func (b *Binding) PermissionNames(ctx context.Context, instanceID string) ([]string, error) {
	return b.engine.EffectivePermissionNames(ctx, b.subject, b.ref(instanceID))
}

// PermissionBits returns the effective permissions as single-bit masks.
func (b *Binding) PermissionBits(ctx context.Context, instanceID string) ([]Mask, error) {
	return b.engine.EffectivePermissionBits(ctx, b.subject, b.ref(instanceID))
}

// PermissionChoices returns the effective permissions as (bit, name) pairs.
func (b *Binding) PermissionChoices(ctx context.Context, instanceID string) ([]Choice, error) {
	return b.engine.EffectivePermissionChoices(ctx, b.subject, b.ref(instanceID))
}
