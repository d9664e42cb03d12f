package auth

import (
	"fmt"

	"collabrelay/pkg/types"
)

// ChannelPolicy is the join gate: a user may join only their own channel,
// and the superuser may join any channel including the superuser channel.
// Wildcard membership is implicit on every join and never requested
// directly.
type ChannelPolicy struct {
	// Open disables the check entirely (anonymous mode).
	Open bool
}

func (p ChannelPolicy) CheckJoin(user, channel string) error {
	if channel == "" {
		return types.ErrMissingChannel
	}
	if p.Open {
		return nil
	}
	if user == "" {
		return fmt.Errorf("%w: connection is unauthenticated", ErrChannelForbidden)
	}
	if user == types.SuperUser || user == channel {
		return nil
	}
	return fmt.Errorf("%w: %q may not join %q", ErrChannelForbidden, user, channel)
}

// AllowAllSends is the default per-send policy: membership was already
// verified at join time. The hook stays on every send path so stricter
// policies can be swapped in without touching callers.
type AllowAllSends struct{}

func (AllowAllSends) CheckSend(user, messageType string, data types.Payload) error {
	return nil
}
