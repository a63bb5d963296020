package service

import (
	"context"
	"errors"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/observability"
)

type ResolutionState string

const (
	StateUnauthenticated      ResolutionState = "unauthenticated"
	StateSessionAuthenticated ResolutionState = "session"
	StateRememberRotated      ResolutionState = "remember_rotated"
	StateAnonymous            ResolutionState = "anonymous"
)

// Resolution is the identity of one request plus the cookie changes the
// transport must apply.
type Resolution struct {
	State    ResolutionState
	Identity *domain.Identity

	// NewSession is set when a remember credential produced a session.
	NewSession *domain.Session
	// NewRemember replaces the remember cookie after rotation.
	NewRemember *RememberCredential

	ClearSession  bool
	ClearRemember bool
}

func (r Resolution) IsAuthenticated() bool {
	return r.Identity != nil
}

// Resolve identifies the caller from its session handle, falling back to a
// remember credential. It never fails: every error resolves to Anonymous.
func (s *AuthService) Resolve(ctx context.Context, sessionID, rememberCookie string) Resolution {
	res := Resolution{State: StateUnauthenticated}
	defer func() {
		observability.RecordIdentityResolution(ctx, string(res.State))
	}()

	if sessionID != "" {
		sess, err := s.sessions.Read(ctx, sessionID)
		if err == nil {
			res.State = StateSessionAuthenticated
			res.Identity = sess.Identity()
			return res
		}
		if errors.Is(err, ErrSessionNotFound) {
			res.ClearSession = true
		} else {
			s.logger.ErrorContext(ctx, "session lookup failed", "error", err)
		}
	}

	if rememberCookie == "" {
		res.State = StateAnonymous
		return res
	}
	res = s.resolveRemember(ctx, rememberCookie, res)
	return res
}

func (s *AuthService) resolveRemember(ctx context.Context, rememberCookie string, res Resolution) Resolution {
	res.State = StateAnonymous
	cred, ok := ParseRememberCookie(rememberCookie)
	if !ok {
		res.ClearRemember = true
		return res
	}
	user, err := s.remember.Validate(ctx, cred)
	if err != nil {
		if !errors.Is(err, ErrRememberTokenInvalid) {
			s.logger.ErrorContext(ctx, "remember token lookup failed", "error", err)
		}
		res.ClearRemember = true
		return res
	}
	next, err := s.remember.Rotate(ctx, cred.Selector, user.ID)
	if err != nil {
		if !errors.Is(err, ErrRememberTokenInvalid) {
			s.logger.ErrorContext(ctx, "remember token rotation failed", "user_id", user.ID, "error", err)
		}
		res.ClearRemember = true
		return res
	}
	res.NewRemember = &next

	sess, err := s.sessions.Create(ctx, user.ID, user.Email, user.FullName)
	if err != nil {
		s.logger.ErrorContext(ctx, "session create after remember failed", "user_id", user.ID, "error", err)
		return res
	}
	res.State = StateRememberRotated
	res.NewSession = sess
	res.Identity = sess.Identity()
	res.ClearSession = false
	return res
}
