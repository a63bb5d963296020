package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"
)

const resetTokenBytes = 32

// IssuedReset is a freshly created reset token for a known account.
type IssuedReset struct {
	Token     string
	UserID    uint
	Email     string
	ExpiresAt time.Time
}

type PasswordResetService struct {
	users  repository.UserRepository
	repo   repository.PasswordResetRepository
	hasher PasswordHasher
	ttl    time.Duration
	now    func() time.Time
	rand   io.Reader
}

func NewPasswordResetService(users repository.UserRepository, repo repository.PasswordResetRepository, hasher PasswordHasher, ttl time.Duration, now func() time.Time, rand io.Reader) *PasswordResetService {
	if now == nil {
		now = time.Now
	}
	return &PasswordResetService{users: users, repo: repo, hasher: hasher, ttl: ttl, now: now, rand: rand}
}

// IssueFor creates a reset token for the active account with email. An
// unknown email yields (nil, nil).
func (s *PasswordResetService) IssueFor(ctx context.Context, email string) (*IssuedReset, error) {
	user, err := s.users.FindActiveByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordPasswordReset(ctx, "request", "unknown_email")
			return nil, nil
		}
		observability.RecordPasswordReset(ctx, "request", "error")
		return nil, err
	}
	token, err := security.RandomHex(s.rand, resetTokenBytes)
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().UTC().Add(s.ttl)
	if err := s.repo.Create(ctx, &domain.PasswordResetToken{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}); err != nil {
		observability.RecordPasswordReset(ctx, "request", "error")
		return nil, err
	}
	observability.RecordPasswordReset(ctx, "request", "issued")
	return &IssuedReset{Token: token, UserID: user.ID, Email: user.Email, ExpiresAt: expiresAt}, nil
}

func (s *PasswordResetService) Validate(ctx context.Context, token string) (*domain.PasswordResetTarget, error) {
	if !security.IsHex(token, resetTokenBytes*2) {
		return nil, ErrResetTokenInvalid
	}
	target, err := s.repo.FindValidByToken(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}
	return target, nil
}

// Consume sets the account password and burns the token atomically.
func (s *PasswordResetService) Consume(ctx context.Context, token, newPassword string) (*domain.PasswordResetTarget, error) {
	if !security.IsHex(token, resetTokenBytes*2) {
		observability.RecordPasswordReset(ctx, "consume", "invalid")
		return nil, ErrResetTokenInvalid
	}
	hash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		observability.RecordPasswordReset(ctx, "consume", "error")
		return nil, err
	}
	target, err := s.repo.ConsumeWithPassword(ctx, token, hash, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) || errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordPasswordReset(ctx, "consume", "invalid")
			return nil, ErrResetTokenInvalid
		}
		observability.RecordPasswordReset(ctx, "consume", "error")
		return nil, err
	}
	observability.RecordPasswordReset(ctx, "consume", "success")
	return target, nil
}
