package broker

import "errors"

var (
	ErrNilEndpoint   = errors.New("nil endpoint")
	ErrSessionClosed = errors.New("broker session is closed")
)
