package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/vendi-market/vendi/internal/http/webctx"
	"github.com/vendi-market/vendi/internal/security"
)

func newTestCSRF() (*CSRF, *security.CookieSigner) {
	signer := security.NewCookieSigner("vendi", testSecret, nil)
	return NewCSRF(signer, security.CookiePolicy{}, "vendi_csrf", time.Hour, nil), signer
}

func signedCSRF(t *testing.T, signer *security.CookieSigner, token string) *http.Cookie {
	t.Helper()
	v, err := signer.Sign(security.PurposeCSRF, token, time.Hour)
	if err != nil {
		t.Fatalf("sign csrf: %v", err)
	}
	return &http.Cookie{Name: "vendi_csrf", Value: v}
}

func TestCSRFMiddlewareIssuesTokenOnSafeRequest(t *testing.T) {
	csrf, signer := newTestCSRF()
	var token string
	h := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = webctx.From(r.Context()).CSRFToken
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if !security.IsHex(token, 64) {
		t.Fatalf("expected 64-hex token, got %q", token)
	}
	c := responseCookie(rr, "vendi_csrf")
	if c == nil {
		t.Fatal("expected csrf cookie")
	}
	got, err := signer.Verify(security.PurposeCSRF, c.Value)
	if err != nil || got != token {
		t.Fatalf("cookie carries %q (err=%v), want %q", got, err, token)
	}
}

func TestCSRFMiddlewareRejectsMissingCookie(t *testing.T) {
	csrf, _ := newTestCSRF()
	h := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set(CSRFHeaderName, "token")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf cookie, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareRejectsMismatch(t *testing.T) {
	csrf, signer := newTestCSRF()
	h := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.AddCookie(signedCSRF(t, signer, "cookie-value"))
	req.Header.Set(CSRFHeaderName, "header-value")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for csrf mismatch, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareRejectsUnsignedCookie(t *testing.T) {
	csrf, _ := newTestCSRF()
	h := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.AddCookie(&http.Cookie{Name: "vendi_csrf", Value: "match"})
	req.Header.Set(CSRFHeaderName, "match")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unsigned cookie, got %d", rr.Code)
	}
}

func TestCSRFMiddlewareAllowsMatchingFormField(t *testing.T) {
	csrf, signer := newTestCSRF()
	h := csrf.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("email") != "alice@example.com" {
			t.Fatalf("form body not available to handler")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	form := url.Values{CSRFFormField: {"match"}, "email": {"alice@example.com"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(signedCSRF(t, signer, "match"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid csrf token, got %d", rr.Code)
	}
}

func TestSecurityHeadersSet(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, name := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Content-Security-Policy"} {
		if rr.Header().Get(name) == "" {
			t.Fatalf("expected header %s", name)
		}
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must only be sent over TLS")
	}
}

func TestRequestIDGeneratedOrPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = chimiddleware.GetReqID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(seen) != 36 || rr.Header().Get("X-Request-Id") != seen {
		t.Fatalf("expected generated uuid request id, got %q", seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "bad id\n")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "bad id\n" {
		t.Fatal("expected malformed request id to be replaced")
	}
}

func TestBodyLimitRejectsOversizedBody(t *testing.T) {
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
