package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "sharky.db"))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSQLiteStore_CreateChatDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	chat, err := s.CreateChat(ctx, "user_1", DefaultChatName, nil)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID == "" {
		t.Fatal("expected chat id")
	}
	if chat.Name != "New chat" {
		t.Errorf("name = %q, want %q", chat.Name, "New chat")
	}
	if chat.Messages == nil || len(chat.Messages) != 0 {
		t.Errorf("messages = %#v, want empty slice", chat.Messages)
	}

	got, err := s.FindChatByIDForUser(ctx, chat.ID, "user_1")
	if err != nil {
		t.Fatalf("FindChatByIDForUser: %v", err)
	}
	if got.Name != chat.Name || !got.CreatedAt.Equal(chat.CreatedAt) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, chat)
	}
}

func TestSQLiteStore_OwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	chat, err := s.CreateChat(ctx, "owner", DefaultChatName, nil)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"find", func() error { _, err := s.FindChatByIDForUser(ctx, chat.ID, "intruder"); return err }},
		{"append", func() error {
			return s.AppendMessages(ctx, chat.ID, "intruder", []Message{{Role: RoleUser, Content: "x"}})
		}},
		{"rename", func() error { _, err := s.RenameChat(ctx, chat.ID, "intruder", "mine"); return err }},
		{"delete", func() error { return s.DeleteChat(ctx, chat.ID, "intruder") }},
		{"missing id", func() error { return s.DeleteChat(ctx, "does-not-exist", "owner") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}

	got, err := s.FindChatByIDForUser(ctx, chat.ID, "owner")
	if err != nil {
		t.Fatalf("chat should still exist: %v", err)
	}
	if got.Name != DefaultChatName || len(got.Messages) != 0 {
		t.Errorf("chat was modified by another user: %+v", got)
	}
}

func TestSQLiteStore_AppendMessagesKeepsOrderAndBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	chat, err := s.CreateChat(ctx, "u", DefaultChatName, nil)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Minute) }
	first := []Message{
		{Role: RoleUser, Content: "hello", Timestamp: 1},
		{Role: RoleAssistant, Content: "hi there", Timestamp: 2},
	}
	if err := s.AppendMessages(ctx, chat.ID, "u", first); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := s.AppendMessages(ctx, chat.ID, "u", []Message{{Role: RoleUser, Content: "again", Timestamp: 3}}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	got, err := s.FindChatByIDForUser(ctx, chat.ID, "u")
	if err != nil {
		t.Fatalf("FindChatByIDForUser: %v", err)
	}
	wantContents := []string{"hello", "hi there", "again"}
	if len(got.Messages) != len(wantContents) {
		t.Fatalf("got %d messages, want %d", len(got.Messages), len(wantContents))
	}
	for i, want := range wantContents {
		if got.Messages[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, got.Messages[i].Content, want)
		}
	}
	if !got.UpdatedAt.After(chat.UpdatedAt) {
		t.Errorf("updatedAt %v should be after %v", got.UpdatedAt, chat.UpdatedAt)
	}
}

func TestSQLiteStore_AppendMessagesAdvancesUpdatedAtWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }

	chat, err := s.CreateChat(ctx, "u", DefaultChatName, nil)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	prev := chat.UpdatedAt
	for i := 0; i < 3; i++ {
		if err := s.AppendMessages(ctx, chat.ID, "u", []Message{{Role: RoleUser, Content: "tick"}}); err != nil {
			t.Fatalf("AppendMessages: %v", err)
		}
		got, err := s.FindChatByIDForUser(ctx, chat.ID, "u")
		if err != nil {
			t.Fatalf("FindChatByIDForUser: %v", err)
		}
		if !got.UpdatedAt.After(prev) {
			t.Fatalf("append %d: updatedAt %v not after %v", i, got.UpdatedAt, prev)
		}
		prev = got.UpdatedAt
	}
}

func TestSQLiteStore_FindChatsByUserSortedByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	older, _ := s.CreateChat(ctx, "u", "A", nil)
	s.now = func() time.Time { return base.Add(time.Second) }
	newer, _ := s.CreateChat(ctx, "u", "B", nil)
	if _, err := s.CreateChat(ctx, "someone-else", "C", nil); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	chats, err := s.FindChatsByUser(ctx, "u")
	if err != nil {
		t.Fatalf("FindChatsByUser: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != newer.ID || chats[1].ID != older.ID {
		t.Fatalf("unexpected order: %+v", chats)
	}

	// Touching the older chat moves it to the front.
	s.now = func() time.Time { return base.Add(time.Minute) }
	if err := s.AppendMessages(ctx, older.ID, "u", []Message{{Role: RoleUser, Content: "bump"}}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	chats, _ = s.FindChatsByUser(ctx, "u")
	if chats[0].ID != older.ID {
		t.Errorf("first chat = %s, want %s", chats[0].ID, older.ID)
	}

	none, err := s.FindChatsByUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("FindChatsByUser: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", none)
	}
}

func TestSQLiteStore_RenameAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	chat, _ := s.CreateChat(ctx, "u", DefaultChatName, nil)
	renamed, err := s.RenameChat(ctx, chat.ID, "u", "Trip plans")
	if err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	if renamed.Name != "Trip plans" {
		t.Errorf("name = %q", renamed.Name)
	}

	if err := s.DeleteChat(ctx, chat.ID, "u"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := s.FindChatByIDForUser(ctx, chat.ID, "u"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Users(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if err := s.UpsertUser(ctx, User{IdentityID: "user_1", Email: "a@example.com", FirstName: "Ada"}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	if err := s.UpsertUser(ctx, User{IdentityID: "user_1", Email: "b@example.com"}); err != nil {
		t.Fatalf("UpsertUser replay: %v", err)
	}

	u, err := s.FindUser(ctx, "user_1")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if u.Email != "b@example.com" || u.FirstName != "" {
		t.Errorf("profile not replaced: %+v", u)
	}
	if !u.CreatedAt.Equal(base) || !u.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("timestamps = %v / %v", u.CreatedAt, u.UpdatedAt)
	}

	if err := s.DeleteUser(ctx, "user_1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if err := s.DeleteUser(ctx, "user_1"); err != nil {
		t.Fatalf("DeleteUser of unknown user: %v", err)
	}
	if _, err := s.FindUser(ctx, "user_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	tests := []struct {
		url       string
		wantMongo bool
		wantErr   bool
	}{
		{url: "mongodb://localhost:27017", wantMongo: true},
		{url: "mongodb+srv://cluster.example.net", wantMongo: true},
		{url: "sqlite://" + filepath.Join(t.TempDir(), "a.db")},
		{url: filepath.Join(t.TempDir(), "b.db")},
		{url: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			s, err := Open(tt.url, "sharky")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			_, isMongo := s.(*MongoStore)
			if isMongo != tt.wantMongo {
				t.Errorf("mongo = %v, want %v", isMongo, tt.wantMongo)
			}
		})
	}
}
