package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"chat-backend/application/ports"
	"chat-backend/pkg/auth"
	"chat-backend/pkg/common"
	pkgerrors "chat-backend/pkg/errors"
	"chat-backend/pkg/utils"
)

// VerifyTokenRequest is the body of POST /api/auth/verify
type VerifyTokenRequest struct {
	Token string `json:"token" validate:"required" message:"Token is required"`
}

// UserResponse is the public view of a principal
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func newUserResponse(p *auth.Principal) UserResponse {
	resp := UserResponse{ID: p.ID, Email: p.Email}
	if !p.CreatedAt.IsZero() {
		resp.CreatedAt = utils.FormatTimestamp(p.CreatedAt)
	}
	return resp
}

// AuthHandler handles token verification and profile lookups
type AuthHandler struct {
	verifier   ports.IdentityVerifier
	errHandler *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(verifier ports.IdentityVerifier, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		verifier:   verifier,
		errHandler: errHandler,
		logger:     logger,
	}
}

// Verify handles POST /api/auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyTokenRequest
	if err := common.ParseJSONBody(w, r, &req, common.MaxBodyBytes); err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	principal, err := h.verifier.Verify(r.Context(), req.Token)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"user":  newUserResponse(principal),
		"valid": true,
	})
}

// Profile handles GET /api/auth/profile. The route sits behind Authenticate.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipalFromContext(r.Context())
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewUnauthorizedError("User not authenticated"))
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"user": newUserResponse(principal),
	})
}
