package channel

import "errors"

var (
	ErrNilEndpoint      = errors.New("nil endpoint")
	ErrDuplicateSession = errors.New("endpoint id already attached")
	ErrSessionClosed    = errors.New("session is closed")
)
