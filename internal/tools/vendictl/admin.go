package vendictl

import (
	"context"
	"fmt"
	"time"

	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/service"
)

// Admin performs operator actions against account state.
type Admin struct {
	users    repository.UserRepository
	tokens   repository.RememberTokenRepository
	sessions *service.SessionService
	now      func() time.Time
}

// NewAdmin builds an Admin. sessions may be nil when the session store is
// process-local and therefore unreachable from this tool.
func NewAdmin(users repository.UserRepository, tokens repository.RememberTokenRepository, sessions *service.SessionService, now func() time.Time) *Admin {
	if now == nil {
		now = time.Now
	}
	return &Admin{users: users, tokens: tokens, sessions: sessions, now: now}
}

func (a *Admin) Verify(ctx context.Context, email string) ([]string, error) {
	u, err := a.users.FindByEmail(ctx, service.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if err := a.users.SetVerified(ctx, u.ID, true, a.now().UTC()); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("user=%s verified", u.Email)}, nil
}

func (a *Admin) Activate(ctx context.Context, email string) ([]string, error) {
	u, err := a.users.FindByEmail(ctx, service.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if err := a.users.SetActive(ctx, u.ID, true, a.now().UTC()); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("user=%s activated", u.Email)}, nil
}

// Deactivate blocks the account and revokes every remember token and, when
// reachable, every server session it holds.
func (a *Admin) Deactivate(ctx context.Context, email string) ([]string, error) {
	u, err := a.users.FindByEmail(ctx, service.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if err := a.users.SetActive(ctx, u.ID, false, a.now().UTC()); err != nil {
		return nil, err
	}
	details := []string{fmt.Sprintf("user=%s deactivated", u.Email)}

	revoked, err := a.tokens.DeleteByUserID(ctx, u.ID)
	if err != nil {
		return details, fmt.Errorf("revoke remember tokens: %w", err)
	}
	details = append(details, fmt.Sprintf("remember_tokens_revoked=%d", revoked))

	if a.sessions == nil {
		return append(details, "sessions=skipped (no shared session store)"), nil
	}
	n, err := a.sessions.DestroyAllForUser(ctx, u.ID)
	if err != nil {
		return details, fmt.Errorf("destroy sessions: %w", err)
	}
	return append(details, fmt.Sprintf("sessions_destroyed=%d", n)), nil
}

func (a *Admin) PruneTokens(ctx context.Context) ([]string, error) {
	n, err := a.tokens.DeleteExpired(ctx, a.now().UTC())
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("expired_remember_tokens_deleted=%d", n)}, nil
}
