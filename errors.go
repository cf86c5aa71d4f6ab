package objperm

import (
	"errors"

	"github.com/MrEthical07/objperm/permission"
	"github.com/MrEthical07/objperm/record"
)

// Vocabulary and registry errors, re-exported so callers need only this
// package for errors.Is checks.
var (
	ErrUnknownPermission  = permission.ErrUnknownPermission
	ErrDuplicateName      = permission.ErrDuplicateName
	ErrEmptyName          = permission.ErrEmptyName
	ErrTooManyPermissions = permission.ErrTooManyPermissions
	ErrUndefinedBits      = permission.ErrUndefinedBits
	ErrAlreadyRegistered  = permission.ErrAlreadyRegistered
	ErrNotRegistered      = permission.ErrNotRegistered
	ErrRegistryFrozen     = permission.ErrRegistryFrozen
	ErrEmptyEntityType    = permission.ErrEmptyEntityType
)

var (
	// ErrStoreUnavailable wraps every record store failure.
	ErrStoreUnavailable = record.ErrUnavailable
	// ErrRecordCorrupt is returned when a stored mask cannot be decoded.
	ErrRecordCorrupt = record.ErrCorrupt

	// ErrEmptyPermissionSet is returned when a grant, revoke or check names
	// no permissions.
	ErrEmptyPermissionSet = errors.New("empty permission set")
	// ErrInvalidSubject is returned for a subject with an unknown kind or an
	// empty ID.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrInvalidInstance is returned for a nil instance or one with an empty
	// ID.
	ErrInvalidInstance = errors.New("invalid instance")
	// ErrListenerFailed wraps listener errors when propagation is enabled.
	// The mutation has already been persisted when it is returned.
	ErrListenerFailed = errors.New("change listener failed")
	// ErrEngineNotReady is returned by methods called on a nil or closed
	// engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrBuilderUsed is returned by a second call to Build.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)
