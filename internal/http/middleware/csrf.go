package middleware

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vendi-market/vendi/internal/http/response"
	"github.com/vendi-market/vendi/internal/security"
)

const (
	CSRFFormField  = "_csrf"
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRF implements a double-submit check: the signed cookie holds the token
// and every unsafe request must echo it in a form field or header.
type CSRF struct {
	signer *security.CookieSigner
	policy security.CookiePolicy
	name   string
	ttl    time.Duration
	rand   io.Reader
}

func NewCSRF(signer *security.CookieSigner, policy security.CookiePolicy, cookieName string, ttl time.Duration, rand io.Reader) *CSRF {
	return &CSRF{signer: signer, policy: policy, name: cookieName, ttl: ttl, rand: rand}
}

func (c *CSRF) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, r := ensureRequestContext(r)
		token, err := c.signer.Verify(security.PurposeCSRF, security.GetCookie(r, c.name))
		valid := err == nil && token != ""

		if !isSafeMethod(r.Method) {
			submitted := r.Header.Get(CSRFHeaderName)
			if submitted == "" {
				submitted = r.PostFormValue(CSRFFormField)
			}
			if !valid || subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
				slog.WarnContext(r.Context(), "csrf check failed", "path", r.URL.Path, "cookie_valid", valid)
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "invalid csrf token", nil)
				return
			}
		}

		if !valid {
			token, err = security.RandomHex(c.rand, 32)
			if err != nil {
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
				return
			}
			signed, err := c.signer.Sign(security.PurposeCSRF, token, c.ttl)
			if err != nil {
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
				return
			}
			c.policy.Set(w, c.name, signed, c.ttl)
		}
		rc.CSRFToken = token
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
