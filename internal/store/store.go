package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a record does not exist or is not owned by
// the requesting user. Callers cannot tell the two cases apart.
var ErrNotFound = errors.New("not found")

// ChatRepository holds chat documents. Every operation that names a chat is
// scoped to its owning user.
type ChatRepository interface {
	// FindChatsByUser returns all chats of a user, most recently updated first.
	FindChatsByUser(ctx context.Context, userID string) ([]Chat, error)
	FindChatByIDForUser(ctx context.Context, chatID, userID string) (*Chat, error)
	CreateChat(ctx context.Context, userID, name string, messages []Message) (*Chat, error)
	// AppendMessages pushes messages in order and bumps UpdatedAt.
	AppendMessages(ctx context.Context, chatID, userID string, messages []Message) error
	RenameChat(ctx context.Context, chatID, userID, name string) (*Chat, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
}

type UserRepository interface {
	// UpsertUser creates or replaces the profile keyed by IdentityID.
	UpsertUser(ctx context.Context, user User) error
	// DeleteUser removes the user; deleting an unknown user is not an error.
	DeleteUser(ctx context.Context, identityID string) error
	FindUser(ctx context.Context, identityID string) (*User, error)
}

type Store interface {
	ChatRepository
	UserRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open picks the backend from the URL: mongodb:// and mongodb+srv:// select
// MongoDB, anything else is treated as a SQLite data source. No connection is
// made until the first operation.
func Open(databaseURL, databaseName string) (Store, error) {
	switch {
	case databaseURL == "":
		return nil, fmt.Errorf("database URL is empty")
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return NewMongoStore(databaseURL, databaseName), nil
	default:
		return NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://")), nil
	}
}
