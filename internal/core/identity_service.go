package core

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/store"
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// IdentityEvent is the subset of an identity-provider webhook payload this
// service reads.
type IdentityEvent struct {
	Type string            `json:"type"`
	Data IdentityEventData `json:"data"`
}

type IdentityEventData struct {
	ID                    string         `json:"id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	ImageURL              string         `json:"image_url"`
}

type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// PrimaryEmail returns the address marked primary, falling back to the first.
func (d IdentityEventData) PrimaryEmail() string {
	for _, e := range d.EmailAddresses {
		if d.PrimaryEmailAddressID != "" && e.ID == d.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(d.EmailAddresses) > 0 {
		return d.EmailAddresses[0].EmailAddress
	}
	return ""
}

// IdentityService mirrors identity-provider accounts into the user store.
// It is the only writer of user records.
type IdentityService struct {
	users  store.UserRepository
	logger *zap.Logger
}

func NewIdentityService(users store.UserRepository, logger *zap.Logger) *IdentityService {
	return &IdentityService{users: users, logger: logger}
}

// HandleEvent applies a verified event. Replaying an event is safe; unknown
// event types are logged and ignored.
func (s *IdentityService) HandleEvent(ctx context.Context, event IdentityEvent) error {
	switch event.Type {
	case EventUserCreated, EventUserUpdated:
		if event.Data.ID == "" {
			return fmt.Errorf("%w: event %s has no user id", ErrValidation, event.Type)
		}
		user := store.User{
			IdentityID: event.Data.ID,
			Email:      event.Data.PrimaryEmail(),
			FirstName:  event.Data.FirstName,
			LastName:   event.Data.LastName,
			ImageURL:   event.Data.ImageURL,
		}
		if err := s.users.UpsertUser(ctx, user); err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", user.IdentityID, err)
		}
		s.logger.Info("user synced", zap.String("event", event.Type), zap.String("identity_id", user.IdentityID))

	case EventUserDeleted:
		if event.Data.ID == "" {
			return fmt.Errorf("%w: event %s has no user id", ErrValidation, event.Type)
		}
		if err := s.users.DeleteUser(ctx, event.Data.ID); err != nil {
			return fmt.Errorf("failed to delete user %s: %w", event.Data.ID, err)
		}
		s.logger.Info("user deleted", zap.String("identity_id", event.Data.ID))

	default:
		s.logger.Info("ignoring unhandled webhook event", zap.String("event", event.Type))
	}
	return nil
}
