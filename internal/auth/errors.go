package auth

import "errors"

var (
	ErrNoStrategies     = errors.New("no authentication strategies configured")
	ErrNoCookie         = errors.New("no session cookie")
	ErrInvalidCookie    = errors.New("session cookie is invalid")
	ErrNoToken          = errors.New("no user token supplied")
	ErrNoUser           = errors.New("no user specified")
	ErrTokenRejected    = errors.New("token not valid for user")
	ErrChannelForbidden = errors.New("user is not allowed to join channel")
)
