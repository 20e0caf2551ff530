// Package identity verifies bearer credentials against the identity provider.
package identity

import (
	"context"
	"time"

	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/pkg/auth"
	pkgerrors "chat-backend/pkg/errors"
)

const invalidTokenMessage = "Invalid or expired token"

// lookupFunc resolves a token to the user it was issued for
type lookupFunc func(token string) (*auth.Principal, error)

// SupabaseVerifier asks the Supabase auth API who a token belongs to
type SupabaseVerifier struct {
	lookup  lookupFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewSupabaseVerifier creates a verifier backed by client.Auth
func NewSupabaseVerifier(client *supa.Client, timeout time.Duration, logger *zap.Logger) *SupabaseVerifier {
	lookup := func(token string) (*auth.Principal, error) {
		resp, err := client.Auth.WithToken(token).GetUser()
		if err != nil {
			return nil, err
		}
		return &auth.Principal{
			ID:        resp.ID.String(),
			Email:     resp.Email,
			CreatedAt: resp.CreatedAt.UTC(),
		}, nil
	}
	return newSupabaseVerifier(lookup, timeout, logger)
}

func newSupabaseVerifier(lookup lookupFunc, timeout time.Duration, logger *zap.Logger) *SupabaseVerifier {
	return &SupabaseVerifier{lookup: lookup, timeout: timeout, logger: logger}
}

var _ ports.IdentityVerifier = (*SupabaseVerifier)(nil)

type lookupResult struct {
	principal *auth.Principal
	err       error
}

// Verify returns the token's principal. The auth client takes no context, so
// the call runs in its own goroutine and is abandoned on timeout.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	if token == "" {
		return nil, pkgerrors.NewUnauthorizedError("Token is required")
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	done := make(chan lookupResult, 1)
	go func() {
		p, err := v.lookup(token)
		done <- lookupResult{principal: p, err: err}
	}()

	select {
	case <-ctx.Done():
		v.logger.Warn("Identity provider did not answer in time", zap.Duration("timeout", v.timeout))
		return nil, pkgerrors.NewTimeoutError("Token verification").WithCause(ctx.Err())
	case res := <-done:
		if res.err != nil {
			v.logger.Debug("Token rejected by identity provider", zap.Error(res.err))
			return nil, pkgerrors.NewUnauthorizedError(invalidTokenMessage).WithCause(res.err)
		}
		if res.principal == nil || res.principal.ID == "" {
			return nil, pkgerrors.NewUnauthorizedError(invalidTokenMessage)
		}
		return res.principal, nil
	}
}
