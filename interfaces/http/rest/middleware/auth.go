package middleware

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/pkg/auth"
	pkgerrors "chat-backend/pkg/errors"
)

// Authenticate resolves the bearer token to a principal and stores it in the
// request context. Requests without a usable Authorization header are
// rejected before the identity provider is contacted.
func Authenticate(verifier ports.IdentityVerifier, userLimiter *auth.UserRateLimiter, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r)
			if token == "" {
				errHandler.Handle(w, r, pkgerrors.NewUnauthorizedError("Missing or invalid authorization header"))
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				errHandler.Handle(w, r, err)
				return
			}

			if userLimiter != nil {
				allowed, err := userLimiter.Allow(r.Context(), principal.ID)
				if err != nil {
					logger.Error("User rate limiter error", zap.Error(err))
					errHandler.Handle(w, r, err)
					return
				}
				if !allowed {
					errHandler.Handle(w, r, pkgerrors.NewRateLimitError(userLimiter.Limit(), "minute"))
					return
				}
			}

			logger.Debug("Request authenticated",
				zap.String("user_id", principal.ID),
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
			)

			next.ServeHTTP(w, r.WithContext(auth.SetPrincipalInContext(r.Context(), principal)))
		})
	}
}

// RateLimitByIP rejects clients that exceed the per-IP budget. It relies on
// chi's RealIP middleware having normalised RemoteAddr.
func RateLimitByIP(limiter *auth.IPRateLimiter, errHandler *pkgerrors.ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				errHandler.Handle(w, r, err)
				return
			}
			if !allowed {
				errHandler.Handle(w, r, pkgerrors.NewRateLimitError(limiter.Limit(), "minute"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns RemoteAddr without its port. RealIP may already have
// replaced it with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
