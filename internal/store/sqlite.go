package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore keeps each chat as a single row with its messages serialized
// as a JSON array, so it behaves like the document store.
type SQLiteStore struct {
	conn *lazyConn[*sql.DB]
	now  func() time.Time
}

func NewSQLiteStore(dataSourceName string) *SQLiteStore {
	s := &SQLiteStore{now: time.Now}
	s.conn = newLazyConn(func(ctx context.Context) (*sql.DB, error) {
		return openSQLite(ctx, dataSourceName)
	})
	return s
}

func openSQLite(ctx context.Context, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        identity_id TEXT PRIMARY KEY,
        email TEXT NOT NULL,
        first_name TEXT NOT NULL DEFAULT '',
        last_name TEXT NOT NULL DEFAULT '',
        image_url TEXT NOT NULL DEFAULT '',
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        name TEXT NOT NULL,
        messages TEXT NOT NULL DEFAULT '[]',
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_updated ON chats (user_id, updated_at DESC);
    `
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) db(ctx context.Context) (*sql.DB, error) {
	db, err := s.conn.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	return db, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (s *SQLiteStore) Close(_ context.Context) error {
	if db, ok := s.conn.reset(); ok {
		return db.Close()
	}
	return nil
}

// Chat methods

const chatColumns = "id, user_id, name, messages, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var messagesJSON string
	var createdAt, updatedAt int64
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Name, &messagesJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messagesJSON), &chat.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of chat %s: %w", chat.ID, err)
	}
	if chat.Messages == nil {
		chat.Messages = []Message{}
	}
	chat.CreatedAt = time.UnixMilli(createdAt).UTC()
	chat.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &chat, nil
}

func (s *SQLiteStore) FindChatsByUser(ctx context.Context, userID string) ([]Chat, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT "+chatColumns+" FROM chats WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := make([]Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return chats, nil
}

func (s *SQLiteStore) FindChatByIDForUser(ctx context.Context, chatID, userID string) (*Chat, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, "SELECT "+chatColumns+" FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	chat, err := scanChat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, userID, name string, messages []Message) (*Chat, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	if messages == nil {
		messages = []Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode messages: %w", err)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	chat := &Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Messages:  messages,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = db.ExecContext(ctx,
		"INSERT INTO chats ("+chatColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		chat.ID, chat.UserID, chat.Name, string(messagesJSON), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	return chat, nil
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, chatID, userID string, messages []Message) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	var messagesJSON string
	var prevUpdated int64
	err = tx.QueryRowContext(ctx, "SELECT messages, updated_at FROM chats WHERE id = ? AND user_id = ?", chatID, userID).
		Scan(&messagesJSON, &prevUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load chat messages: %w", err)
	}

	var existing []Message
	if err := json.Unmarshal([]byte(messagesJSON), &existing); err != nil {
		return fmt.Errorf("failed to decode messages of chat %s: %w", chatID, err)
	}
	updated, err := json.Marshal(append(existing, messages...))
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	// updated_at always moves forward, even within the same millisecond.
	updatedAt := max(s.now().UnixMilli(), prevUpdated+1)
	_, err = tx.ExecContext(ctx, "UPDATE chats SET messages = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		string(updated), updatedAt, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute message append: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, userID, name string) (*Chat, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	res, err := db.ExecContext(ctx, "UPDATE chats SET name = ? WHERE id = ? AND user_id = ?", name, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat rename: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return s.FindChatByIDForUser(ctx, chatID, userID)
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID, userID string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute chat delete: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// User methods

func (s *SQLiteStore) UpsertUser(ctx context.Context, user User) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	now := s.now().UnixMilli()
	_, err = db.ExecContext(ctx, `
        INSERT INTO users (identity_id, email, first_name, last_name, image_url, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (identity_id) DO UPDATE SET
            email = excluded.email,
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            image_url = excluded.image_url,
            updated_at = excluded.updated_at`,
		user.IdentityID, user.Email, user.FirstName, user.LastName, user.ImageURL, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, identityID string) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM users WHERE identity_id = ?", identityID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindUser(ctx context.Context, identityID string) (*User, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	var createdAt, updatedAt int64
	err = db.QueryRowContext(ctx,
		"SELECT identity_id, email, first_name, last_name, image_url, created_at, updated_at FROM users WHERE identity_id = ?",
		identityID).Scan(&user.IdentityID, &user.Email, &user.FirstName, &user.LastName, &user.ImageURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	user.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &user, nil
}
