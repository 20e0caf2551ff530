package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Principal is the authenticated caller as reported by the identity provider.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type contextKey string

const principalContextKey contextKey = "principal"

// ErrNoPrincipal is returned when a request was not authenticated.
var ErrNoPrincipal = errors.New("principal not found in context")

// GetPrincipalFromContext extracts the principal set by the auth middleware
func GetPrincipalFromContext(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// SetPrincipalInContext adds the principal to context
func SetPrincipalInContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
// It returns "" when the header is absent or uses another scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
