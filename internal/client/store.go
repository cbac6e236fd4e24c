// Package client mirrors a user's chats on the client side. Store keeps the
// chat list and the selected chat in sync with the server and applies sent
// messages optimistically.
package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/apitypes"
	"github.com/sharkyai/sharky/internal/store"
)

var (
	ErrNotSignedIn    = errors.New("not signed in")
	ErrSendInFlight   = errors.New("a message is already being sent")
	ErrNoChatSelected = errors.New("no chat selected")
	ErrEmptyPrompt    = errors.New("message is empty")
	ErrUnknownChat    = errors.New("chat is not in the list")
)

// SendError reports a failed send. Prompt is the text the user typed, to be
// put back into the input.
type SendError struct {
	Prompt string
	Err    error
}

func (e *SendError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Notifier shows short status messages to the user.
type Notifier interface {
	Success(message string)
	Error(message string)
}

type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)   {}

// Backend is the subset of the chat API the store needs.
type Backend interface {
	CreateChat(ctx context.Context) (*store.Chat, error)
	ListChats(ctx context.Context) ([]store.Chat, error)
	RenameChat(ctx context.Context, chatID, name string) error
	DeleteChat(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, req apitypes.SendMessageRequest) (*apitypes.SendMessageResponse, error)
}

// Message is a chat message as held by the client. LocalID is set only on a
// tentative message that the server has not confirmed yet.
type Message struct {
	store.Message
	LocalID string `json:"-"`
}

type Chat struct {
	ID        string
	Name      string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

func fromServer(c store.Chat) Chat {
	messages := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		messages[i] = Message{Message: m}
	}
	return Chat{ID: c.ID, Name: c.Name, Messages: messages, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func (c Chat) clone() Chat {
	c.Messages = append([]Message(nil), c.Messages...)
	return c
}

// history returns the trailing apitypes.HistoryLimit confirmed messages in
// server form.
func (c Chat) history() []store.Message {
	out := make([]store.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.LocalID == "" {
			out = append(out, m.Message)
		}
	}
	if len(out) > apitypes.HistoryLimit {
		out = out[len(out)-apitypes.HistoryLimit:]
	}
	return out
}

type Store struct {
	backend  Backend
	session  Session
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	chats    []Chat
	selected *Chat
	sending  bool
}

func NewStore(backend Backend, session Session, notifier Notifier, logger *zap.Logger) *Store {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		session:  session,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Chats returns a copy of the chat list, most recently updated first.
func (s *Store) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Chat, len(s.chats))
	for i, c := range s.chats {
		out[i] = c.clone()
	}
	return out
}

// Selected returns a copy of the selected chat.
func (s *Store) Selected() (Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == nil {
		return Chat{}, false
	}
	return s.selected.clone(), true
}

// Sending reports whether a message is awaiting its reply.
func (s *Store) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Store) Select(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chats {
		if c.ID == chatID {
			sel := c.clone()
			s.selected = &sel
			return nil
		}
	}
	return ErrUnknownChat
}

func (s *Store) fail(err error, fallback string) error {
	s.notifier.Error(userMessage(err, fallback))
	return err
}

// FetchChats replaces the chat list with the server's. A user with no chats
// gets one created. The selected chat is kept if it still exists and is
// replaced by the server copy; otherwise the most recent chat is selected.
func (s *Store) FetchChats(ctx context.Context) error {
	userID := s.session.UserID()
	if userID == "" {
		s.logger.Warn("fetch chats attempted without a signed-in user")
		return ErrNotSignedIn
	}

	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.logger.Error("fetch chats failed", zap.String("user_id", userID), zap.Error(err))
		return s.fail(err, "Failed to fetch chats")
	}

	if len(chats) == 0 {
		s.logger.Info("no chats found, creating one", zap.String("user_id", userID))
		created, err := s.backend.CreateChat(ctx)
		if err != nil {
			s.logger.Error("create chat failed", zap.String("user_id", userID), zap.Error(err))
			return s.fail(err, "Failed to create chat")
		}
		chats = []store.Chat{*created}
		s.notifier.Success("New chat created successfully")
	}

	s.mu.Lock()
	s.replaceChats(chats, "")
	s.mu.Unlock()
	return nil
}

// CreateNewChat creates a chat on the server, reloads the list and selects
// the new chat.
func (s *Store) CreateNewChat(ctx context.Context) error {
	userID := s.session.UserID()
	if userID == "" {
		s.logger.Warn("create chat attempted without a signed-in user")
		return ErrNotSignedIn
	}

	created, err := s.backend.CreateChat(ctx)
	if err != nil {
		s.logger.Error("create chat failed", zap.String("user_id", userID), zap.Error(err))
		return s.fail(err, "Failed to create chat")
	}

	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.logger.Error("fetch chats failed", zap.String("user_id", userID), zap.Error(err))
		return s.fail(err, "Failed to fetch chats")
	}

	s.mu.Lock()
	s.replaceChats(chats, created.ID)
	s.mu.Unlock()

	s.notifier.Success("New chat created successfully")
	s.logger.Info("new chat created", zap.String("user_id", userID), zap.String("chat_id", created.ID))
	return nil
}

// replaceChats installs server chats and reapplies the selection rule.
// preferID, when present in chats, is selected. Callers hold s.mu.
func (s *Store) replaceChats(serverChats []store.Chat, preferID string) {
	chats := make([]Chat, len(serverChats))
	for i, c := range serverChats {
		chats[i] = fromServer(c)
	}
	sortChats(chats)
	s.chats = chats

	want := preferID
	if want == "" && s.selected != nil {
		want = s.selected.ID
	}
	for _, c := range chats {
		if c.ID == want {
			sel := c.clone()
			s.selected = &sel
			return
		}
	}
	if len(chats) > 0 {
		sel := chats[0].clone()
		s.selected = &sel
	} else {
		s.selected = nil
	}
}

func sortChats(chats []Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
}

// SendMessage appends prompt to the selected chat right away, asks the
// server for a reply, then either confirms the message together with the
// reply or removes exactly that message again. On failure the returned
// *SendError carries the prompt for the caller to restore.
func (s *Store) SendMessage(ctx context.Context, prompt string) error {
	if s.session.UserID() == "" {
		return ErrNotSignedIn
	}
	text := strings.TrimSpace(prompt)

	s.mu.Lock()
	switch {
	case s.sending:
		s.mu.Unlock()
		s.notifier.Error("Wait for the previous prompt response")
		return ErrSendInFlight
	case s.selected == nil:
		s.mu.Unlock()
		s.notifier.Error("Select a chat first")
		return ErrNoChatSelected
	case text == "":
		s.mu.Unlock()
		return ErrEmptyPrompt
	}

	s.sending = true
	chatID := s.selected.ID
	history := s.selected.history()
	tentative := Message{
		Message: store.Message{Role: store.RoleUser, Content: text, Timestamp: s.now().UnixMilli()},
		LocalID: uuid.NewString(),
	}
	s.apply(chatID, func(c *Chat) { c.Messages = append(c.Messages, tentative) })
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	resp, err := s.backend.SendMessage(ctx, apitypes.SendMessageRequest{
		ChatID:              chatID,
		Message:             text,
		ConversationHistory: history,
	})
	if err != nil {
		s.mu.Lock()
		s.apply(chatID, func(c *Chat) { removeLocal(c, tentative.LocalID) })
		s.mu.Unlock()

		s.logger.Error("send message failed", zap.String("chat_id", chatID), zap.Error(err))
		s.notifier.Error(userMessage(err, "Failed to send message"))
		return &SendError{Prompt: prompt, Err: err}
	}

	userMsg, assistantMsg := confirmedPair(resp, tentative.Message, s.now())
	s.mu.Lock()
	s.apply(chatID, func(c *Chat) {
		commitLocal(c, tentative.LocalID, userMsg, assistantMsg)
		c.UpdatedAt = s.now()
	})
	sortChats(s.chats)
	s.mu.Unlock()
	return nil
}

// apply runs fn on the selected chat and on the list entry with chatID.
// Callers hold s.mu.
func (s *Store) apply(chatID string, fn func(c *Chat)) {
	if s.selected != nil && s.selected.ID == chatID {
		fn(s.selected)
	}
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			fn(&s.chats[i])
		}
	}
}

func confirmedPair(resp *apitypes.SendMessageResponse, sent store.Message, now time.Time) (store.Message, store.Message) {
	if resp.Data != nil {
		return resp.Data.UserMessage, resp.Data.AssistantMessage
	}
	ts := now.UnixMilli()
	if ts <= sent.Timestamp {
		ts = sent.Timestamp + 1
	}
	return sent, store.Message{Role: store.RoleAssistant, Content: resp.AIResponse, Timestamp: ts}
}

func removeLocal(c *Chat, localID string) {
	for i, m := range c.Messages {
		if m.LocalID == localID {
			c.Messages = append(c.Messages[:i:i], c.Messages[i+1:]...)
			return
		}
	}
}

// commitLocal swaps the tentative message for the confirmed pair. If a
// reload dropped the tentative message meanwhile, the pair is appended
// unless the reload already brought it in.
func commitLocal(c *Chat, localID string, userMsg, assistantMsg store.Message) {
	for i, m := range c.Messages {
		if m.LocalID == localID {
			rest := append([]Message(nil), c.Messages[i+1:]...)
			c.Messages = append(c.Messages[:i:i], Message{Message: userMsg}, Message{Message: assistantMsg})
			c.Messages = append(c.Messages, rest...)
			return
		}
	}
	for _, m := range c.Messages {
		if m.LocalID == "" && m.Message == userMsg {
			return
		}
	}
	c.Messages = append(c.Messages, Message{Message: userMsg}, Message{Message: assistantMsg})
}

// RenameChat renames a chat on the server and reloads the list.
func (s *Store) RenameChat(ctx context.Context, chatID, name string) error {
	if s.session.UserID() == "" {
		return ErrNotSignedIn
	}
	if err := s.backend.RenameChat(ctx, chatID, name); err != nil {
		s.logger.Error("rename chat failed", zap.String("chat_id", chatID), zap.Error(err))
		return s.fail(err, "Failed to rename chat")
	}
	s.notifier.Success("Chat renamed")
	return s.FetchChats(ctx)
}

// DeleteChat deletes a chat on the server and reloads the list. Deleting
// the last chat leaves the user with a fresh one.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if s.session.UserID() == "" {
		return ErrNotSignedIn
	}
	if err := s.backend.DeleteChat(ctx, chatID); err != nil {
		s.logger.Error("delete chat failed", zap.String("chat_id", chatID), zap.Error(err))
		return s.fail(err, "Failed to delete chat")
	}
	s.notifier.Success("Chat deleted")
	return s.FetchChats(ctx)
}
