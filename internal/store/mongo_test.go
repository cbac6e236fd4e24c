package store

import (
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestChatFilter(t *testing.T) {
	oid := bson.NewObjectID()

	tests := []struct {
		name    string
		chatID  string
		wantErr error
	}{
		{"valid id", oid.Hex(), nil},
		{"not hex", "not-an-object-id", ErrNotFound},
		{"uuid", "6f1c2a1e-8a8f-4a39-b1b3-9a1f3b0f6c11", ErrNotFound},
		{"empty", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := chatFilter(tt.chatID, "user_1")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			want := bson.D{{Key: "_id", Value: oid}, {Key: "userId", Value: "user_1"}}
			if len(filter) != len(want) {
				t.Fatalf("filter = %v", filter)
			}
			for i := range want {
				if filter[i].Key != want[i].Key || filter[i].Value != want[i].Value {
					t.Errorf("filter[%d] = %v, want %v", i, filter[i], want[i])
				}
			}
		})
	}
}

func TestChatDocumentToChat(t *testing.T) {
	oid := bson.NewObjectID()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))

	chat := chatDocument{
		ID:        oid,
		UserID:    "user_1",
		Name:      DefaultChatName,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}.toChat()

	if chat.ID != oid.Hex() || chat.UserID != "user_1" || chat.Name != DefaultChatName {
		t.Errorf("chat = %+v", chat)
	}
	if chat.Messages == nil || len(chat.Messages) != 0 {
		t.Errorf("messages = %#v, want empty slice", chat.Messages)
	}
	if chat.CreatedAt.Location() != time.UTC || !chat.CreatedAt.Equal(created) {
		t.Errorf("createdAt = %v, want %v in UTC", chat.CreatedAt, created)
	}

	withMessages := chatDocument{ID: oid, Messages: []Message{{Role: RoleUser, Content: "hi", Timestamp: 1}}}.toChat()
	if len(withMessages.Messages) != 1 || withMessages.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", withMessages.Messages)
	}
}
