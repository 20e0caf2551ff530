package identity

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/pkg/auth"
	pkgerrors "chat-backend/pkg/errors"
)

// JWTVerifier validates Supabase access tokens locally with the project
// secret. Principals carry the token's issue time as created_at because the
// account creation time is not part of the token.
type JWTVerifier struct {
	validator *auth.JWTValidator
	logger    *zap.Logger
}

func NewJWTVerifier(validator *auth.JWTValidator, logger *zap.Logger) *JWTVerifier {
	return &JWTVerifier{validator: validator, logger: logger}
}

var _ ports.IdentityVerifier = (*JWTVerifier)(nil)

func (v *JWTVerifier) Verify(ctx context.Context, token string) (*auth.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims, err := v.validator.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			return nil, pkgerrors.NewUnauthorizedError("Token is required")
		}
		v.logger.Debug("Token rejected", zap.Error(err))
		return nil, pkgerrors.NewUnauthorizedError(invalidTokenMessage).WithCause(err)
	}
	return claims.Principal(), nil
}
