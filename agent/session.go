package agent

import (
	"context"
	"sync"
	"time"

	"github.com/automagik/omni/core/valkey"
)

// SessionStore maps a session_name to the agent-side session id so the
// same conversation keeps agent continuity across calls.
type SessionStore interface {
	Get(ctx context.Context, sessionName string) (string, bool)
	Set(ctx context.Context, sessionName, agentSessionID string)
}

// sessionTTL bounds how long an idle conversation keeps its agent session.
const sessionTTL = 7 * 24 * time.Hour

// MemorySessionStore is the process-local fallback store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]string)}
}

func (s *MemorySessionStore) Get(_ context.Context, sessionName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[sessionName]
	return id, ok
}

func (s *MemorySessionStore) Set(_ context.Context, sessionName, agentSessionID string) {
	s.mu.Lock()
	s.sessions[sessionName] = agentSessionID
	s.mu.Unlock()
}

// ValkeySessionStore keeps agent sessions in Valkey so stickiness survives
// process restarts. Failures degrade to a cache miss.
type ValkeySessionStore struct {
	client *valkey.Client
}

func NewValkeySessionStore(client *valkey.Client) *ValkeySessionStore {
	return &ValkeySessionStore{client: client}
}

func (s *ValkeySessionStore) key(sessionName string) string {
	return s.client.Key("agentsession", sessionName)
}

func (s *ValkeySessionStore) Get(ctx context.Context, sessionName string) (string, bool) {
	inner := s.client.Inner()
	res := inner.Do(ctx, inner.B().Get().Key(s.key(sessionName)).Build())
	if err := res.Error(); err != nil {
		return "", false
	}
	id, err := res.ToString()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (s *ValkeySessionStore) Set(ctx context.Context, sessionName, agentSessionID string) {
	inner := s.client.Inner()
	cmd := inner.B().Set().
		Key(s.key(sessionName)).
		Value(agentSessionID).
		Ex(sessionTTL).
		Build()
	_ = inner.Do(ctx, cmd).Error()
}
