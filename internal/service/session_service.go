package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/security"
)

const sessionIDBytes = 32

// SessionService issues and resolves server-side sessions. Lifetimes are
// absolute: reading a session never extends it.
type SessionService struct {
	store  SessionStore
	ttl    time.Duration
	now    func() time.Time
	rand   io.Reader
	logger *slog.Logger
}

func NewSessionService(store SessionStore, ttl time.Duration, now func() time.Time, rand io.Reader, logger *slog.Logger) *SessionService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{store: store, ttl: ttl, now: now, rand: rand, logger: logger}
}

func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

func (s *SessionService) Create(ctx context.Context, userID uint, email, displayName string) (*domain.Session, error) {
	id, err := security.RandomHex(s.rand, sessionIDBytes)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess := &domain.Session{
		ID:        id,
		UserID:    userID,
		UserEmail: email,
		UserName:  displayName,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, sess); err != nil {
		observability.RecordSessionStoreError(ctx, s.store.Backend(), "save")
		return nil, err
	}
	return sess, nil
}

func (s *SessionService) Read(ctx context.Context, id string) (*domain.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			observability.RecordSessionStoreError(ctx, s.store.Backend(), "get")
		}
		return nil, err
	}
	return sess, nil
}

// Destroy drops the session. Storage failures are logged, never returned.
func (s *SessionService) Destroy(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if err := s.store.Delete(ctx, id); err != nil {
		observability.RecordSessionStoreError(ctx, s.store.Backend(), "delete")
		s.logger.WarnContext(ctx, "session destroy failed", "error", err)
	}
}

func (s *SessionService) DestroyAllForUser(ctx context.Context, userID uint) (int, error) {
	n, err := s.store.DeleteByUserID(ctx, userID)
	if err != nil {
		observability.RecordSessionStoreError(ctx, s.store.Backend(), "delete_by_user")
		return 0, err
	}
	return n, nil
}
