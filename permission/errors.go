package permission

import "errors"

var (
	// ErrUnknownPermission is returned when a permission name is not part of
	// the vocabulary. The wrapped message names the offending entry.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrDuplicateName is returned when a vocabulary is built with a repeated name.
	ErrDuplicateName = errors.New("duplicate permission name")
	// ErrEmptyName is returned when a vocabulary is built with an empty name.
	ErrEmptyName = errors.New("permission name cannot be empty")
	// ErrTooManyPermissions is returned when a vocabulary exceeds [MaxPermissions].
	ErrTooManyPermissions = errors.New("permission limit exceeded")
	// ErrUndefinedBits is returned when a mask carries bits the vocabulary does not define.
	ErrUndefinedBits = errors.New("mask contains undefined permission bits")
	// ErrAlreadyRegistered is returned when an entity type is bound twice.
	ErrAlreadyRegistered = errors.New("entity type already registered")
	// ErrNotRegistered is returned for operations on an unbound entity type.
	ErrNotRegistered = errors.New("entity type not registered")
	// ErrRegistryFrozen is returned by Register/Unregister after Freeze.
	ErrRegistryFrozen = errors.New("registry frozen")
	// ErrEmptyEntityType is returned when registering a blank entity type.
	ErrEmptyEntityType = errors.New("entity type cannot be empty")
)
