package objperm

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/objperm/record"
)

const (
	auditEventGrant       = "permission_grant"
	auditEventRevoke      = "permission_revoke"
	auditEventRevokeAll   = "permission_revoke_all"
	auditEventCheckDenied = "permission_check_denied"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrUnknownPermission AuditErrorCode = "unknown_permission"
	auditErrUndefinedBits     AuditErrorCode = "undefined_bits"
	auditErrNotRegistered     AuditErrorCode = "not_registered"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrCorrupt           AuditErrorCode = "record_corrupt"
	auditErrListener          AuditErrorCode = "listener_failed"
	auditErrDenied            AuditErrorCode = "denied"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	key record.Key,
	requested, previous, mask Mask,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		SubjectKind: key.Kind.String(),
		SubjectID:   key.SubjectID,
		EntityType:  key.EntityType,
		InstanceID:  key.InstanceID,
		Requested:   requested.Raw(),
		Previous:    previous.Raw(),
		Mask:        mask.Raw(),
		Initiator:   initiatorFromContext(ctx),
		RequestID:   requestIDFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnknownPermission):
		return auditErrUnknownPermission
	case errors.Is(err, ErrUndefinedBits):
		return auditErrUndefinedBits
	case errors.Is(err, ErrNotRegistered):
		return auditErrNotRegistered
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrRecordCorrupt):
		return auditErrCorrupt
	case errors.Is(err, ErrListenerFailed):
		return auditErrListener
	case errors.Is(err, errDenied):
		return auditErrDenied
	default:
		return auditErrInternal
	}
}

// errDenied only labels denied-check audit events; it is never returned.
var errDenied = errors.New("permission denied")
