package types

import "errors"

var (
	ErrMissingChannel  = errors.New("channel not specified")
	ErrMissingUsername = errors.New("username not specified")
	ErrInvalidUserID   = errors.New("user ID must be 1-64 characters, without '.', '*' or '#'")
)
