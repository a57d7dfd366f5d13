package auth

import (
	"context"
	"errors"
)

// Chain tries the relay's configured authenticators in order and accepts
// the first that authenticates the request.
//
// The accepting authenticator's name is stamped on AuthResult.Method so
// handlers and logs can tell an API key caller from a token caller.
// When every authenticator that saw the request rejects it, the most
// specific failure wins: a bad or expired credential is reported over a
// missing one.
type Chain struct {
	authenticators []Authenticator
}

// NewChain creates a Chain. Nil authenticators are skipped.
func NewChain(auths ...Authenticator) *Chain {
	c := &Chain{}
	for _, a := range auths {
		if a != nil {
			c.authenticators = append(c.authenticators, a)
		}
	}
	return c
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

// Methods returns the names of the chained authenticators, in order.
func (c *Chain) Methods() []string {
	names := make([]string, len(c.authenticators))
	for i, a := range c.authenticators {
		names[i] = a.Name()
	}
	return names
}

// Supports reports whether any chained authenticator can handle req.
func (c *Chain) Supports(ctx context.Context, req *AuthRequest) bool {
	for _, a := range c.authenticators {
		if a.Supports(ctx, req) {
			return true
		}
	}
	return false
}

// Authenticate returns the first successful result. Authenticator errors
// abort the chain.
func (c *Chain) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	var rejected *AuthResult
	for _, a := range c.authenticators {
		if !a.Supports(ctx, req) {
			continue
		}

		result, err := a.Authenticate(ctx, req)
		if err != nil {
			return nil, err
		}
		if result == nil {
			continue
		}
		if result.Authenticated {
			result.Method = a.Name()
			return result, nil
		}
		if rejected == nil || moreSpecific(result.Error, rejected.Error) {
			rejected = result
		}
	}

	if rejected != nil {
		return rejected, nil
	}
	return AuthFailure(ErrMissingCredentials, ""), nil
}

func moreSpecific(err, than error) bool {
	return errors.Is(than, ErrMissingCredentials) && !errors.Is(err, ErrMissingCredentials)
}

var _ Authenticator = (*Chain)(nil)
