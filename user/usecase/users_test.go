package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automagik/omni/user/domain"
)

type fakeUserRepo struct {
	users map[string]domain.User
	links map[string]string // channel|external -> user id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.User), links: make(map[string]string)}
}

func (r *fakeUserRepo) Init(context.Context) error { return nil }

func (r *fakeUserRepo) GetUser(_ context.Context, id string) (domain.User, error) {
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) CreateUser(_ context.Context, u domain.User) error {
	r.users[u.ID] = u
	return nil
}

func (r *fakeUserRepo) FindByExternalID(_ context.Context, channel, externalID string) (domain.User, error) {
	if id, ok := r.links[channel+"|"+externalID]; ok {
		return r.users[id], nil
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (r *fakeUserRepo) Link(_ context.Context, userID, channel, externalID string) error {
	key := channel + "|" + externalID
	if existing, ok := r.links[key]; ok && existing != userID {
		return domain.ErrExternalIDLinked
	}
	r.links[key] = userID
	return nil
}

func (r *fakeUserRepo) ListExternalIDs(_ context.Context, userID string) ([]domain.ExternalID, error) {
	var out []domain.ExternalID
	var next uint
	for key, id := range r.links {
		if id != userID {
			continue
		}
		next++
		parts := strings.SplitN(key, "|", 2)
		out = append(out, domain.ExternalID{
			ID:         next,
			UserID:     id,
			Channel:    parts[0],
			ExternalID: parts[1],
			CreatedAt:  time.Now().UTC(),
		})
	}
	return out, nil
}

func TestResolveOrCreate_FirstSightingCreatesUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo)

	u, err := svc.ResolveOrCreate(context.Background(), "whatsapp", "+5511999999999", "Alice")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "Alice", u.DisplayName)

	again, err := svc.ResolveOrCreate(context.Background(), "whatsapp", "+5511999999999", "Alice Renamed")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID, "repeat sighting resolves to the same user")
	assert.Equal(t, "Alice", again.DisplayName, "existing user keeps its original name")
}

func TestResolveOrCreate_SameExternalIDDifferentChannels(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo)

	wa, err := svc.ResolveOrCreate(context.Background(), "whatsapp", "12345", "A")
	require.NoError(t, err)
	dc, err := svc.ResolveOrCreate(context.Background(), "discord", "12345", "A")
	require.NoError(t, err)

	assert.NotEqual(t, wa.ID, dc.ID, "identity never spans channels without an explicit link")
}

func TestLink_JoinsExternalIDIntoExistingUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo)

	u, err := svc.ResolveOrCreate(context.Background(), "whatsapp", "+5511999999999", "Alice")
	require.NoError(t, err)

	require.NoError(t, svc.Link(context.Background(), u.ID, "discord", "777000"))

	resolved, err := svc.ResolveOrCreate(context.Background(), "discord", "777000", "alice#0001")
	require.NoError(t, err)
	assert.Equal(t, u.ID, resolved.ID)
}

func TestLink_ConflictingPairRejected(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo)

	a, err := svc.ResolveOrCreate(context.Background(), "whatsapp", "111", "A")
	require.NoError(t, err)
	_, err = svc.ResolveOrCreate(context.Background(), "discord", "222", "B")
	require.NoError(t, err)

	err = svc.Link(context.Background(), a.ID, "discord", "222")
	assert.ErrorIs(t, err, domain.ErrExternalIDLinked)
}

func TestLink_UnknownUser(t *testing.T) {
	svc := NewService(newFakeUserRepo())

	err := svc.Link(context.Background(), "nope", "discord", "1")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestGet_ReturnsUserWithExternalIDs(t *testing.T) {
	repo := newFakeUserRepo()
	svc := NewService(repo)

	u, err := svc.ResolveOrCreate(context.Background(), "whatsapp", "+5511999999999", "Alice")
	require.NoError(t, err)

	got, ids, err := svc.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	require.Len(t, ids, 1)
	assert.Equal(t, u.ID, ids[0].UserID)
}
