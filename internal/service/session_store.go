package service

import (
	"context"
	"sync"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
)

// SessionStore holds server-side session state. Get reports absent and
// expired sessions as ErrSessionNotFound.
type SessionStore interface {
	Save(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID uint) (int, error)
	// Backend names the store in metrics.
	Backend() string
}

type InMemorySessionStore struct {
	mu     sync.RWMutex
	now    func() time.Time
	byID   map[string]domain.Session
	byUser map[uint]map[string]struct{}
}

func NewInMemorySessionStore(now func() time.Time) *InMemorySessionStore {
	if now == nil {
		now = time.Now
	}
	return &InMemorySessionStore{
		now:    now,
		byID:   make(map[string]domain.Session),
		byUser: make(map[uint]map[string]struct{}),
	}
}

func (s *InMemorySessionStore) Backend() string { return "memory" }

func (s *InMemorySessionStore) Save(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[sess.ID] = *sess
	ids, ok := s.byUser[sess.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}
	return nil
}

func (s *InMemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	sess, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !s.now().Before(sess.ExpiresAt) {
		s.mu.Lock()
		s.deleteLocked(id)
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
	return nil
}

func (s *InMemorySessionStore) DeleteByUserID(_ context.Context, userID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byUser[userID]
	for id := range ids {
		delete(s.byID, id)
	}
	delete(s.byUser, userID)
	return len(ids), nil
}

func (s *InMemorySessionStore) deleteLocked(id string) {
	sess, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if ids, ok := s.byUser[sess.UserID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
}
