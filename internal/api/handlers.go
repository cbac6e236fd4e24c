package api

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/apitypes"
	"github.com/sharkyai/sharky/internal/auth"
	"github.com/sharkyai/sharky/internal/core"
)

type contextKey string

const userIDKey contextKey = "userID"

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the verified caller id set by AuthMiddleware.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type APIHandler struct {
	chatService *core.ChatService
	verifier    auth.Verifier
	db          Pinger
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, verifier auth.Verifier, db Pinger, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		chatService: cs,
		verifier:    verifier,
		db:          db,
		logger:      logger,
	}
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller's user id in the request context.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			respondFailure(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}

		userID, err := h.verifier.Verify(r.Context(), strings.TrimSpace(tokenString))
		if err != nil {
			h.logger.Debug("rejected bearer token", zap.Error(err))
			respondFailure(w, http.StatusUnauthorized, msgUnauthenticated)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatService.CreateChat(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, apitypes.CreateChatResponse{
		Envelope: apitypes.Envelope{Success: true, Message: "New Chat Created"},
		Data:     chat,
	})
}

// GetChatsHandler lists the caller's chats, or returns one chat when the
// chatId query parameter is set.
func (h *APIHandler) GetChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	if chatID := r.URL.Query().Get("chatId"); chatID != "" {
		chat, err := h.chatService.GetChat(r.Context(), chatID, userID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, apitypes.GetChatResponse{
			Envelope: apitypes.Envelope{Success: true},
			Chat:     chat,
		})
		return
	}

	chats, err := h.chatService.ListChats(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.ListChatsResponse{
		Envelope: apitypes.Envelope{Success: true},
		Chats:    chats,
	})
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	var req apitypes.RenameChatRequest
	if err := parseJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.chatService.RenameChat(r.Context(), req.ChatID, UserID(r.Context()), req.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.Envelope{Success: true, Message: "Chat Updated"})
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	var req apitypes.DeleteChatRequest
	if err := parseJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.chatService.DeleteChat(r.Context(), req.ChatID, UserID(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, apitypes.Envelope{Success: true, Message: "Chat Deleted"})
}

func (h *APIHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req apitypes.SendMessageRequest
	if err := parseJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	exchange, err := h.chatService.SendMessage(r.Context(), core.SendInput{
		ChatID:  req.ChatID,
		UserID:  UserID(r.Context()),
		Message: req.Message,
		History: req.ConversationHistory,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, apitypes.SendMessageResponse{
		Envelope:   apitypes.Envelope{Success: true, Message: "AI response generated successfully"},
		AIResponse: exchange.AssistantMessage.Content,
		Data: &apitypes.ExchangeData{
			UserMessage:      exchange.UserMessage,
			AssistantMessage: exchange.AssistantMessage,
		},
	})
}
