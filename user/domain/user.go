package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrExternalIDLinked = errors.New("external id already linked to another user")
)

// User is a logical identity that may span channels.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExternalID links a (channel, external id) pair to a user. The pair is
// unique across the table.
type ExternalID struct {
	ID         uint      `json:"id"`
	UserID     string    `json:"user_id"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type IUserRepository interface {
	Init(ctx context.Context) error
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, u User) error
	FindByExternalID(ctx context.Context, channel, externalID string) (User, error)
	// Link creates the (channel, external_id) -> user binding. Fails with
	// ErrExternalIDLinked when the pair already points at another user.
	Link(ctx context.Context, userID, channel, externalID string) error
	ListExternalIDs(ctx context.Context, userID string) ([]ExternalID, error)
}
