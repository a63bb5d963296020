package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"
)

const (
	rememberSelectorBytes = 12
	rememberSecretBytes   = 32
)

// RememberCredential is the client half of a persistent login.
type RememberCredential struct {
	Selector string
	Secret   string
}

func (c RememberCredential) CookieValue() string {
	return c.Selector + ":" + c.Secret
}

// ParseRememberCookie splits a "selector:secret" cookie value. Anything that
// is not a 24 char selector and 64 char secret in lowercase hex is rejected.
func ParseRememberCookie(raw string) (RememberCredential, bool) {
	selector, secret, ok := strings.Cut(raw, ":")
	if !ok {
		return RememberCredential{}, false
	}
	if !security.IsHex(selector, rememberSelectorBytes*2) || !security.IsHex(secret, rememberSecretBytes*2) {
		return RememberCredential{}, false
	}
	return RememberCredential{Selector: selector, Secret: secret}, true
}

type RememberTokenService struct {
	repo   repository.RememberTokenRepository
	hasher PasswordHasher
	ttl    time.Duration
	now    func() time.Time
	rand   io.Reader
	logger *slog.Logger
}

func NewRememberTokenService(repo repository.RememberTokenRepository, hasher PasswordHasher, ttl time.Duration, now func() time.Time, rand io.Reader, logger *slog.Logger) *RememberTokenService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RememberTokenService{repo: repo, hasher: hasher, ttl: ttl, now: now, rand: rand, logger: logger}
}

func (s *RememberTokenService) TTL() time.Duration {
	return s.ttl
}

func (s *RememberTokenService) Issue(ctx context.Context, userID uint) (RememberCredential, error) {
	cred, row, err := s.mint(ctx, userID)
	if err != nil {
		return RememberCredential{}, err
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return RememberCredential{}, err
	}
	return cred, nil
}

// Validate returns the owner of cred. A missing selector and a wrong secret
// both cost one bcrypt comparison and both return ErrRememberTokenInvalid.
func (s *RememberTokenService) Validate(ctx context.Context, cred RememberCredential) (*domain.User, error) {
	tok, err := s.repo.FindValidBySelector(ctx, cred.Selector, s.now().UTC())
	if err != nil {
		s.hasher.VerifyDummy(ctx, cred.Secret)
		if errors.Is(err, repository.ErrRememberTokenNotFound) {
			observability.RecordRememberValidation(ctx, "miss")
			return nil, ErrRememberTokenInvalid
		}
		observability.RecordRememberValidation(ctx, "error")
		return nil, err
	}
	ok, err := s.hasher.Verify(ctx, cred.Secret, tok.TokenHash)
	if err != nil {
		s.logger.WarnContext(ctx, "remember token hash unreadable", "token_id", tok.ID, "error", err)
	}
	if !ok || tok.User == nil {
		observability.RecordRememberValidation(ctx, "mismatch")
		return nil, ErrRememberTokenInvalid
	}
	observability.RecordRememberValidation(ctx, "valid")
	return tok.User, nil
}

// Rotate replaces oldSelector with a freshly issued credential. If another
// request already rotated oldSelector the call fails with
// ErrRememberTokenInvalid and nothing is issued.
func (s *RememberTokenService) Rotate(ctx context.Context, oldSelector string, userID uint) (RememberCredential, error) {
	cred, row, err := s.mint(ctx, userID)
	if err != nil {
		return RememberCredential{}, err
	}
	if err := s.repo.Rotate(ctx, oldSelector, row); err != nil {
		if errors.Is(err, repository.ErrRememberTokenNotFound) {
			observability.RecordRememberValidation(ctx, "rotation_lost")
			return RememberCredential{}, ErrRememberTokenInvalid
		}
		return RememberCredential{}, err
	}
	observability.RecordRememberValidation(ctx, "rotated")
	return cred, nil
}

func (s *RememberTokenService) RevokeOne(ctx context.Context, selector string) error {
	return s.repo.DeleteBySelector(ctx, selector)
}

func (s *RememberTokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	return s.repo.DeleteByUserID(ctx, userID)
}

func (s *RememberTokenService) PruneExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.now().UTC())
}

func (s *RememberTokenService) mint(ctx context.Context, userID uint) (RememberCredential, *domain.RememberToken, error) {
	selector, err := security.RandomHex(s.rand, rememberSelectorBytes)
	if err != nil {
		return RememberCredential{}, nil, err
	}
	secret, err := security.RandomHex(s.rand, rememberSecretBytes)
	if err != nil {
		return RememberCredential{}, nil, err
	}
	hash, err := s.hasher.Hash(ctx, secret)
	if err != nil {
		return RememberCredential{}, nil, err
	}
	row := &domain.RememberToken{
		UserID:    userID,
		Selector:  selector,
		TokenHash: hash,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	return RememberCredential{Selector: selector, Secret: secret}, row, nil
}
