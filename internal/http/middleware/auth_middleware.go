package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vendi-market/vendi/internal/http/authcookie"
	"github.com/vendi-market/vendi/internal/http/webctx"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/service"
)

const (
	LoginPath     = "/auth/login"
	DashboardPath = "/user/dashboard"

	msgLoginRequired = "Please login to access this page"
)

type IdentityResolver interface {
	Resolve(ctx context.Context, sessionID, rememberCookie string) service.Resolution
}

// Identity resolves the caller once per request and applies the cookie
// changes the resolution asks for before any handler runs.
func Identity(resolver IdentityResolver, jar *authcookie.Jar) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, r := ensureRequestContext(r)
			sessionID, sessionPresent := jar.SessionID(r)
			rememberValue := jar.Remember(r)

			res := resolver.Resolve(r.Context(), sessionID, rememberValue)
			rc.Identity = res.Identity
			rc.SessionID = sessionID
			rc.RememberValue = rememberValue

			if res.NewSession != nil {
				if err := jar.SetSession(w, res.NewSession); err != nil {
					slog.ErrorContext(r.Context(), "session cookie sign failed", "error", err)
				} else {
					rc.SessionID = res.NewSession.ID
				}
			} else if res.ClearSession || (sessionPresent && sessionID == "") {
				jar.ClearSession(w)
				rc.SessionID = ""
			}
			if res.State == service.StateRememberRotated {
				observability.Audit(r, "auth.remember.rotated", "user_id", res.Identity.UserID)
			}
			if res.NewRemember != nil {
				jar.SetRemember(w, *res.NewRemember)
				rc.RememberValue = res.NewRemember.CookieValue()
			} else if res.ClearRemember {
				jar.ClearRemember(w)
				rc.RememberValue = ""
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth redirects anonymous callers to the login page.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := webctx.From(r.Context())
		if !rc.IsAuthenticated() {
			rc.AddFlash(webctx.FlashError, msgLoginRequired)
			http.Redirect(w, r, LoginPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireGuest keeps signed-in callers away from the login and registration
// pages.
func RequireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if webctx.From(r.Context()).IsAuthenticated() {
			http.Redirect(w, r, DashboardPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ensureRequestContext(r *http.Request) (*webctx.RequestContext, *http.Request) {
	if rc, ok := webctx.Lookup(r.Context()); ok {
		return rc, r
	}
	rc := webctx.New()
	return rc, r.WithContext(webctx.With(r.Context(), rc))
}
