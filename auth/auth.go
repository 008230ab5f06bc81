package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Authorizer resolves the caller identified by a bearer token.
type Authorizer interface {
	// Authorize returns the Ethereum address of the token holder, or an error if the
	// token does not identify anyone.
	Authorize(ctx context.Context, token string) (common.Address, error)
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, token string) (common.Address, error)

// Authorize calls f(ctx, token).
func (f AuthorizerFunc) Authorize(ctx context.Context, token string) (common.Address, error) {
	return f(ctx, token)
}
