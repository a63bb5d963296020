// Package authcookie reads and writes the session and remember-me cookies.
package authcookie

import (
	"net/http"
	"time"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/security"
	"github.com/vendi-market/vendi/internal/service"
)

type Jar struct {
	signer       *security.CookieSigner
	policy       security.CookiePolicy
	sessionName  string
	rememberName string
	sessionTTL   time.Duration
	rememberTTL  time.Duration
}

func NewJar(signer *security.CookieSigner, policy security.CookiePolicy, sessionName, rememberName string, sessionTTL, rememberTTL time.Duration) *Jar {
	return &Jar{
		signer:       signer,
		policy:       policy,
		sessionName:  sessionName,
		rememberName: rememberName,
		sessionTTL:   sessionTTL,
		rememberTTL:  rememberTTL,
	}
}

// SessionID returns the session id carried by the signed session cookie.
// present reports whether a cookie was sent at all, so callers can clear a
// cookie that failed verification.
func (j *Jar) SessionID(r *http.Request) (id string, present bool) {
	raw := security.GetCookie(r, j.sessionName)
	if raw == "" {
		return "", false
	}
	id, err := j.signer.Verify(security.PurposeSession, raw)
	if err != nil {
		return "", true
	}
	return id, true
}

func (j *Jar) Remember(r *http.Request) string {
	return security.GetCookie(r, j.rememberName)
}

func (j *Jar) SetSession(w http.ResponseWriter, sess *domain.Session) error {
	value, err := j.signer.Sign(security.PurposeSession, sess.ID, j.sessionTTL)
	if err != nil {
		return err
	}
	j.policy.Set(w, j.sessionName, value, j.sessionTTL)
	return nil
}

func (j *Jar) SetRemember(w http.ResponseWriter, cred service.RememberCredential) {
	j.policy.Set(w, j.rememberName, cred.CookieValue(), j.rememberTTL)
}

func (j *Jar) ClearSession(w http.ResponseWriter) {
	j.policy.Clear(w, j.sessionName)
}

func (j *Jar) ClearRemember(w http.ResponseWriter) {
	j.policy.Clear(w, j.rememberName)
}
