package dbcfg

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied marks engine failures caused by missing permissions.
	// Engine adapters wrap their permission errors with it.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidGrowth is returned for an autogrowth policy that cannot be
	// written to the engine.
	ErrInvalidGrowth = errors.New("invalid growth configuration")

	// ErrFilegroupRenameUnsupported is returned when renaming a filegroup
	// that already exists on the server.
	ErrFilegroupRenameUnsupported = errors.New("renaming an existing filegroup is not supported")

	// ErrPrimaryFilegroup is returned when removing the primary filegroup or
	// the primary data file.
	ErrPrimaryFilegroup = errors.New("the primary filegroup and primary file cannot be removed")

	// ErrPreconditionFailed is matched by *PreconditionError.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound is returned when a named entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnknownProperty is returned for a property name that has no setting.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrUnsupported is returned when the target engine lacks a feature the
	// prototype needs, such as FILESTREAM filegroups.
	ErrUnsupported = errors.New("not supported by the target engine")

	// ErrAlreadyExists is returned when adding an entity whose name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrPathImmutable is returned when moving a file that already exists.
	ErrPathImmutable = errors.New("the location of an existing file cannot be changed")

	// ErrDefaultRequired is returned when clearing the default flag of a
	// filegroup instead of making another filegroup the default.
	ErrDefaultRequired = errors.New("each filegroup kind keeps a default")
)

// InvalidNameError reports a logical or physical name that failed validation.
type InvalidNameError struct {
	Name   string
	Char   rune // offending character, 0 when the name is blank
	Reason string
}

func (e *InvalidNameError) Error() string {
	if e.Char != 0 {
		return fmt.Sprintf("invalid name %q: character %q is not allowed", e.Name, e.Char)
	}
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

// PreconditionError is returned when an alter that needs exclusive access
// would run while other sessions use the database. The caller may retry with
// ApplyOptions.Force.
type PreconditionError struct {
	Database          string
	ActiveConnections int
	// Unknown is set when the connection count could not be read; the
	// database is then assumed busy.
	Unknown bool
	Cause   error
}

func (e *PreconditionError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("database %s may have active connections (count unavailable: %v); retry with force to roll back open transactions", e.Database, e.Cause)
	}
	return fmt.Sprintf("database %s has %d active connection(s); retry with force to roll back open transactions", e.Database, e.ActiveConnections)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

func (e *PreconditionError) Unwrap() error {
	return e.Cause
}

// OwnerTransferError wraps a failure to change the database owner.
type OwnerTransferError struct {
	Database string
	Owner    string
	Cause    error
}

func (e *OwnerTransferError) Error() string {
	return fmt.Sprintf("setting owner of database %s to %s: %v", e.Database, e.Owner, e.Cause)
}

func (e *OwnerTransferError) Unwrap() error {
	return e.Cause
}

// IsPermissionDenied reports whether err carries a permission signal: the
// ErrPermissionDenied sentinel or any error in the chain implementing
// PermissionDenied() bool.
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	var signal interface{ PermissionDenied() bool }
	if errors.As(err, &signal) {
		return signal.PermissionDenied()
	}
	return false
}
