package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"chat-backend/application/services"
	"chat-backend/domain/core/entities"
	"chat-backend/pkg/auth"
	"chat-backend/pkg/common"
	pkgerrors "chat-backend/pkg/errors"
	"chat-backend/pkg/utils"
)

// ChatService is the set of use cases the chat endpoints call
type ChatService interface {
	CreateConversation(ctx context.Context, ownerID, title string) (*entities.Conversation, error)
	ListConversations(ctx context.Context, ownerID string) ([]*entities.Conversation, error)
	GetConversation(ctx context.Context, id, ownerID string) (*entities.Conversation, []*entities.Message, error)
	RenameConversation(ctx context.Context, id, ownerID, title string) (*entities.Conversation, error)
	DeleteConversation(ctx context.Context, id, ownerID string) error
	ListMessages(ctx context.Context, id, ownerID string) ([]*entities.Message, error)
	SendMessage(ctx context.Context, id, ownerID, text string) (*services.ExchangeResult, error)
}

// ChatTitleRequest is the body of POST /api/chat and PUT /api/chat/{chatId}
type ChatTitleRequest struct {
	Title string `json:"title" validate:"required" message:"Chat title is required"`
}

// SendMessageRequest is the body of POST /api/chat/{chatId}/messages
type SendMessageRequest struct {
	Message string `json:"message" validate:"required" message:"Message content is required"`
}

// ChatHandler handles conversation and message endpoints
type ChatHandler struct {
	service    ChatService
	errHandler *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(service ChatService, errHandler *pkgerrors.ErrorHandler, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service:    service,
		errHandler: errHandler,
		logger:     logger,
	}
}

// ListChats handles GET /api/chat
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	chats, err := h.service.ListConversations(r.Context(), principal.ID)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"chats": chats,
		"count": len(chats),
	})
}

// CreateChat handles POST /api/chat
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req ChatTitleRequest
	if !h.decode(w, r, &req) {
		return
	}

	chat, err := h.service.CreateConversation(r.Context(), principal.ID, req.Title)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"chat":    chat,
		"message": "Chat created successfully",
	})
}

// GetChat handles GET /api/chat/{chatId}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	chat, messages, err := h.service.GetConversation(r.Context(), chi.URLParam(r, "chatId"), principal.ID)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"chat":     chat,
		"messages": messages,
		"count":    len(messages),
	})
}

// UpdateChat handles PUT /api/chat/{chatId}
func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req ChatTitleRequest
	if !h.decode(w, r, &req) {
		return
	}

	chat, err := h.service.RenameConversation(r.Context(), chi.URLParam(r, "chatId"), principal.ID, req.Title)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"chat":    chat,
		"message": "Chat title updated successfully",
	})
}

// DeleteChat handles DELETE /api/chat/{chatId}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteConversation(r.Context(), chi.URLParam(r, "chatId"), principal.ID); err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Chat deleted successfully",
	})
}

// SendMessage handles POST /api/chat/{chatId}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.SendMessage(r.Context(), chi.URLParam(r, "chatId"), principal.ID, req.Message)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"userMessage":      result.UserMessage,
		"assistantMessage": result.AssistantMessage,
		"message":          "Message sent and response generated successfully",
	})
}

// ListMessages handles GET /api/chat/{chatId}/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	messages, err := h.service.ListMessages(r.Context(), chi.URLParam(r, "chatId"), principal.ID)
	if err != nil {
		h.errHandler.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// Helper methods

func (h *ChatHandler) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, err := auth.GetPrincipalFromContext(r.Context())
	if err != nil {
		h.errHandler.Handle(w, r, pkgerrors.NewUnauthorizedError("User not authenticated"))
		return nil, false
	}
	return p, true
}

func (h *ChatHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := common.ParseJSONBody(w, r, v, common.MaxBodyBytes); err != nil {
		h.errHandler.Handle(w, r, err)
		return false
	}
	if err := utils.ValidateStruct(v); err != nil {
		h.errHandler.Handle(w, r, err)
		return false
	}
	return true
}
