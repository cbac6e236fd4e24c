// Package apitypes holds the JSON bodies exchanged between the chat API and
// its clients. Every response embeds Envelope.
package apitypes

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/sharkyai/sharky/internal/store"
)

const (
	MaxChatNameLength = 200

	// HistoryLimit is how many trailing messages the server uses as context.
	// Clients need not send more.
	HistoryLimit = 10
)

// Envelope is the common part of every response. Failures set Success to
// false and carry either Message or Error.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Reason returns whichever failure text the server filled in.
func (e Envelope) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

type CreateChatResponse struct {
	Envelope
	Data *store.Chat `json:"data,omitempty"`
}

type ListChatsResponse struct {
	Envelope
	Chats []store.Chat `json:"chats"`
}

type GetChatResponse struct {
	Envelope
	Chat *store.Chat `json:"chat"`
}

type RenameChatRequest struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
}

func (r RenameChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatID, validation.Required),
		validation.Field(&r.Name, validation.By(notBlank), validation.RuneLength(1, MaxChatNameLength)),
	)
}

type DeleteChatRequest struct {
	ChatID string `json:"chatId"`
}

func (r DeleteChatRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatID, validation.Required),
	)
}

type SendMessageRequest struct {
	ChatID              string          `json:"chatId"`
	Message             string          `json:"message"`
	ConversationHistory []store.Message `json:"conversationHistory,omitempty"`
}

func (r SendMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ChatID, validation.Required),
		validation.Field(&r.Message, validation.By(notBlank)),
	)
}

type ExchangeData struct {
	UserMessage      store.Message `json:"userMessage"`
	AssistantMessage store.Message `json:"assistantMessage"`
}

type SendMessageResponse struct {
	Envelope
	AIResponse string        `json:"aiResponse,omitempty"`
	Data       *ExchangeData `json:"data,omitempty"`
}

// notBlank is validation.Required that also rejects whitespace-only strings.
func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return validation.ErrRequired
	}
	return nil
}
