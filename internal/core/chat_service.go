package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/store"
)

// EmptyReplyFallback replaces a completion that came back without text.
const EmptyReplyFallback = "Sorry, I couldn't generate a response."

type ChatService struct {
	chats     store.ChatRepository
	completer Completer
	logger    *zap.Logger
	now       func() time.Time
}

func NewChatService(chats store.ChatRepository, completer Completer, logger *zap.Logger) *ChatService {
	return &ChatService{
		chats:     chats,
		completer: completer,
		logger:    logger,
		now:       time.Now,
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrChatNotFound
	}
	return err
}

// CreateChat starts an empty chat with the default name.
func (s *ChatService) CreateChat(ctx context.Context, userID string) (*store.Chat, error) {
	chat, err := s.chats.CreateChat(ctx, userID, store.DefaultChatName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	s.logger.Info("chat created", zap.String("user_id", userID), zap.String("chat_id", chat.ID))
	return chat, nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]store.Chat, error) {
	chats, err := s.chats.FindChatsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	chat, err := s.chats.FindChatByIDForUser(ctx, chatID, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return chat, nil
}

func (s *ChatService) RenameChat(ctx context.Context, chatID, userID, name string) (*store.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	chat, err := s.chats.RenameChat(ctx, chatID, userID, name)
	if err != nil {
		return nil, notFound(err)
	}
	return chat, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	if err := s.chats.DeleteChat(ctx, chatID, userID); err != nil {
		return notFound(err)
	}
	s.logger.Info("chat deleted", zap.String("user_id", userID), zap.String("chat_id", chatID))
	return nil
}

type SendInput struct {
	ChatID  string
	UserID  string
	Message string
	// History is the client's view of the conversation. When empty the
	// persisted messages are used instead.
	History []store.Message
}

// Exchange is one persisted user/assistant pair.
type Exchange struct {
	UserMessage      store.Message
	AssistantMessage store.Message
}

// SendMessage asks the completer for a reply and, only if that succeeds,
// appends the user message and the reply to the chat in one write.
func (s *ChatService) SendMessage(ctx context.Context, in SendInput) (*Exchange, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}

	chat, err := s.chats.FindChatByIDForUser(ctx, in.ChatID, in.UserID)
	if err != nil {
		return nil, notFound(err)
	}

	history := in.History
	if len(history) == 0 {
		history = chat.Messages
	}

	reply, err := s.completer.Complete(ctx, BuildPrompt(history, message))
	if err != nil {
		s.logger.Error("ai completion failed",
			zap.String("chat_id", chat.ID),
			zap.String("user_id", in.UserID),
			zap.Error(err))
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		reply = EmptyReplyFallback
	}

	// Consecutive timestamps keep the pair ordered even within one millisecond.
	ts := s.now().UnixMilli()
	exchange := &Exchange{
		UserMessage:      store.Message{Role: store.RoleUser, Content: message, Timestamp: ts},
		AssistantMessage: store.Message{Role: store.RoleAssistant, Content: reply, Timestamp: ts + 1},
	}

	err = s.chats.AppendMessages(ctx, chat.ID, in.UserID, []store.Message{exchange.UserMessage, exchange.AssistantMessage})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to store messages: %w", err)
	}
	return exchange, nil
}
