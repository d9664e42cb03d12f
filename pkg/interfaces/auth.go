package interfaces

import (
	"context"
	"net/http"
	"net/url"

	"collabrelay/pkg/types"
)

// ConnMetadata is the transport handshake data an authenticator inspects:
// request headers (token strategy), cookies via the header set (session
// strategy) and query parameters.
type ConnMetadata struct {
	RemoteAddr string
	Header     http.Header
	Query      url.Values
}

// Authenticator is one strategy for turning connection metadata into a
// user identity. A zero-value user with nil error is not allowed;
// strategies reject with a reason instead.
type Authenticator interface {
	// Name identifies the strategy in aggregated rejection reasons.
	Name() string
	Authenticate(ctx context.Context, md *ConnMetadata) (string, error)
}

// SessionStore resolves a web session cookie to the user that owns it.
// The login flow that populates it is an external collaborator.
type SessionStore interface {
	Lookup(ctx context.Context, sessionID string) (string, error)
}

// TokenVerifier checks that a bearer token belongs to the named user.
type TokenVerifier interface {
	Verify(ctx context.Context, user, token string) error
}

// JoinPolicy decides whether an authenticated user may bind to a channel.
type JoinPolicy interface {
	CheckJoin(user, channel string) error
}

// SendPolicy gates every outgoing message before routing. The default
// policy allows all sends, since channel membership was already verified
// at join time; stricter deployments substitute their own without touching
// callers.
type SendPolicy interface {
	CheckSend(user, messageType string, data types.Payload) error
}
