// Package auth decides who a connection belongs to and which channels it
// may bind. Authentication strategies are composed into an ordered chain;
// the first strategy to accept wins, and if all reject the combined error
// carries every strategy's reason so an operator can see which check
// failed.
package auth

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"collabrelay/pkg/interfaces"
)

// Chain tries each authenticator in order with short-circuit evaluation.
type Chain struct {
	strategies []interfaces.Authenticator
	log        *zap.SugaredLogger
}

// NewChain builds an authenticator chain. Order matters: browser session
// checks typically come before token checks.
func NewChain(log *zap.SugaredLogger, strategies ...interfaces.Authenticator) *Chain {
	return &Chain{strategies: strategies, log: log}
}

// Name implements interfaces.Authenticator so chains nest.
func (c *Chain) Name() string { return "chain" }

// Authenticate returns the user id from the first accepting strategy. When
// every strategy rejects, the rejection reasons are aggregated into one
// error, each tagged with its strategy name.
func (c *Chain) Authenticate(ctx context.Context, md *interfaces.ConnMetadata) (string, error) {
	if len(c.strategies) == 0 {
		return "", ErrNoStrategies
	}
	var combined error
	for _, s := range c.strategies {
		user, err := s.Authenticate(ctx, md)
		if err == nil {
			c.log.Infow("user authenticated", "user", user, "strategy", s.Name())
			return user, nil
		}
		combined = multierr.Append(combined, fmt.Errorf("%s: %w", s.Name(), err))
	}
	c.log.Infow("authentication rejected", "reason", combined)
	return "", combined
}
