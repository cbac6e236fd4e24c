package store

import "time"

const DefaultChatName = "New chat"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User mirrors an identity-provider account. Only the identity webhook
// writes these records.
type User struct {
	IdentityID string    `json:"identityId"`
	Email      string    `json:"email"`
	FirstName  string    `json:"firstName,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one turn embedded in a Chat. Timestamp is milliseconds since
// the Unix epoch.
type Message struct {
	Role      string `json:"role" bson:"role"`
	Content   string `json:"content" bson:"content"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"`
}
