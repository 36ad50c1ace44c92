package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/pkg/models"
)

// MemoryStore is an in-process Store backed by a map.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	nextID   int64
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *MemoryStore) Create(ctx context.Context, agentID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &models.Session{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		CreatedAt: time.Now().UTC(),
		Events:    []models.Event{},
	}
	s.sessions[sess.ID] = sess
	return copySession(sess), nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, &ErrNotFound{SessionID: sessionID}
	}
	return copySession(sess), nil
}

func (s *MemoryStore) AppendEvents(ctx context.Context, sessionID string, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return &ErrNotFound{SessionID: sessionID}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, ev := range events {
		s.nextID++
		ev.ID = s.nextID
		ev.SessionID = sessionID
		if ev.TS == "" {
			ev.TS = now
		}
		sess.Events = append(sess.Events, ev)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// copySession snapshots a session so callers cannot mutate stored state.
func copySession(sess *models.Session) *models.Session {
	c := *sess
	c.Events = append([]models.Event(nil), sess.Events...)
	return &c
}
