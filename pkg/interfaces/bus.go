package interfaces

import (
	"context"

	"collabrelay/pkg/types"
)

// Endpoint is the receiving side of an attached connection: a websocket
// wrapper in production, a test double in tests, or an in-process protocol
// peer. Deliver must not block; implementations queue into a mailbox and
// drop on overflow.
type Endpoint interface {
	// ID is the stable connection identity used for direct addressing.
	ID() string
	// User is the authenticated user id, or "" for anonymous mode.
	User() string
	// Deliver hands an inbound message to the endpoint.
	Deliver(messageType string, data types.Payload) error
}

// Session is one connection's view of a Bus. All sends are asynchronous:
// they enqueue or publish and return without waiting for receivers.
//
// Join and Leave are synchronous: when Join returns nil the binding is in
// effect, and a message published immediately afterwards reaches the
// endpoint.
type Session interface {
	// ID is the session's addressable identity: the connection id on the
	// in-process router, the inbox queue name on the broker.
	ID() string

	Join(ctx context.Context, channel string) error
	Leave(ctx context.Context, channel string) error

	// Broadcast delivers to every member of the channel named by the
	// payload's username scope, and to the superuser observers, never back
	// to this session.
	Broadcast(messageType string, data types.Payload) error

	// Request is Broadcast plus stamping of the requester's session id so
	// a Response can find its way back.
	Request(messageType string, data types.Payload) error

	// Response delivers directly to the session named by the payload's
	// requestSenderID field.
	Response(messageType string, data types.Payload) error

	// DirectRequest delivers directly to the session named by the
	// payload's socketID field, stamping the requester's session id.
	DirectRequest(messageType string, data types.Payload) error

	// DirectResponse delivers directly to the requester, stamping this
	// session's id as responder.
	DirectResponse(messageType string, data types.Payload) error

	// ServiceBroadcast delivers to superuser observers only, stamping this
	// session's id into socketID.
	ServiceBroadcast(messageType string, data types.Payload) error

	Close() error
}

// Bus attaches endpoints to the message fabric. The in-process router and
// the broker bridge implement identical delivery semantics behind it.
type Bus interface {
	Attach(ctx context.Context, endpoint Endpoint) (Session, error)
}
