package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"collabrelay/pkg/interfaces"
	"collabrelay/pkg/types"
)

// Handshake header and query parameter names. Tooling clients send
// credentials as headers, browser-side clients as query parameters.
const (
	HeaderUserName  = "X-Relay-User-Name"
	HeaderUserToken = "X-Relay-User-Token"
	QueryUser       = "user"
	QueryToken      = "token"
	SessionCookie   = "relay.sid"
)

// SessionAuthenticator authenticates browser connections from the web
// login session cookie.
type SessionAuthenticator struct {
	sessions interfaces.SessionStore
}

func NewSessionAuthenticator(sessions interfaces.SessionStore) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions}
}

func (a *SessionAuthenticator) Name() string { return "session-cookie" }

func (a *SessionAuthenticator) Authenticate(ctx context.Context, md *interfaces.ConnMetadata) (string, error) {
	req := http.Request{Header: md.Header}
	cookie, err := req.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return "", ErrNoCookie
	}
	user, err := a.sessions.Lookup(ctx, cookie.Value)
	if err != nil {
		return "", ErrInvalidCookie
	}
	// The store is an external collaborator; its answer gets the same
	// identity checks as a claimed name. Reserved names stay unreachable
	// through cookies, the superuser only ever enters via the shared secret.
	if !types.IsValidUserID(user) {
		return "", ErrInvalidCookie
	}
	return user, nil
}

// TokenAuthenticator authenticates from a (user, token) pair found in
// headers or query parameters. The superuser is recognized by presenting
// the shared secret directly; everyone else goes through the verifier.
type TokenAuthenticator struct {
	verifier    interfaces.TokenVerifier
	superSecret string
}

func NewTokenAuthenticator(verifier interfaces.TokenVerifier, superSecret string) *TokenAuthenticator {
	return &TokenAuthenticator{verifier: verifier, superSecret: superSecret}
}

func (a *TokenAuthenticator) Name() string { return "user-token" }

func (a *TokenAuthenticator) Authenticate(ctx context.Context, md *interfaces.ConnMetadata) (string, error) {
	user, token := credentials(md)
	if user == "" {
		return "", ErrNoUser
	}
	if token == "" {
		return "", ErrNoToken
	}
	if user == types.SuperUser {
		if a.superSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.superSecret)) == 1 {
			return types.SuperUser, nil
		}
		return "", ErrTokenRejected
	}
	if !types.IsValidUserID(user) {
		return "", types.ErrInvalidUserID
	}
	if err := a.verifier.Verify(ctx, user, token); err != nil {
		return "", err
	}
	return user, nil
}

func credentials(md *interfaces.ConnMetadata) (user, token string) {
	user = md.Header.Get(HeaderUserName)
	token = md.Header.Get(HeaderUserToken)
	if user != "" && token != "" {
		return user, token
	}
	return md.Query.Get(QueryUser), md.Query.Get(QueryToken)
}

// JWTVerifier verifies HMAC-signed bearer tokens whose subject must match
// the claimed user.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, user, token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject != user {
		return ErrTokenRejected
	}
	return nil
}

// AnonymousAuthenticator accepts every connection as the user it claims to
// be. Used when no credentials are configured: the relay runs open rather
// than refusing to start.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Name() string { return "anonymous" }

func (AnonymousAuthenticator) Authenticate(_ context.Context, md *interfaces.ConnMetadata) (string, error) {
	user, _ := credentials(md)
	if user == "" {
		return "", ErrNoUser
	}
	if user != types.SuperUser && !types.IsValidUserID(user) {
		return "", types.ErrInvalidUserID
	}
	return user, nil
}
