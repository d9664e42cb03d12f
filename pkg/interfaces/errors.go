package interfaces

import "errors"

// Errors shared across store implementations and their callers.
var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrProjectExists    = errors.New("project already exists")
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceExists   = errors.New("resource already exists")
	ErrStaleWrite       = errors.New("write rejected: timestamp not newer than stored resource")
	ErrMetadataNotFound = errors.New("metadata not found")
	ErrStoreClosed      = errors.New("resource store is closed")
)
