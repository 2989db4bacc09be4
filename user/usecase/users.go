package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/user/domain"
)

// Service resolves channel identities to logical users and manages
// caller-initiated cross-channel links.
type Service struct {
	repo domain.IUserRepository
}

func NewService(repo domain.IUserRepository) *Service {
	return &Service{repo: repo}
}

// ResolveOrCreate returns the user behind a (channel, external id) pair,
// creating and linking a fresh one on first sighting.
func (s *Service) ResolveOrCreate(ctx context.Context, channel, externalID, displayName string) (domain.User, error) {
	u, err := s.repo.FindByExternalID(ctx, channel, externalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, err
	}

	u = domain.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	if err := s.repo.Link(ctx, u.ID, channel, externalID); err != nil {
		return domain.User{}, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id":     u.ID,
		"channel":     channel,
		"external_id": externalID,
	}).Debug("[USER] Created user for new external id")
	return u, nil
}

// Link joins an external id into an existing user. Linking is
// caller-initiated only; no inference from matching phone or username.
func (s *Service) Link(ctx context.Context, userID, channel, externalID string) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}
	return s.repo.Link(ctx, userID, channel, externalID)
}

func (s *Service) Get(ctx context.Context, userID string) (domain.User, []domain.ExternalID, error) {
	u, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, nil, err
	}
	ids, err := s.repo.ListExternalIDs(ctx, userID)
	if err != nil {
		return domain.User{}, nil, err
	}
	return u, ids, nil
}
