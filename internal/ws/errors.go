package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrMailboxFull      = errors.New("ws: outbound buffer full")
)
