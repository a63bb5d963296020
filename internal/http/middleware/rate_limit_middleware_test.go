package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vendi-market/vendi/internal/http/webctx"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, RateLimitPolicy) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func (failingLimiter) Release(context.Context, string, RateLimitPolicy, time.Time) error {
	return errors.New("backend down")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func hit(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLocalLimiterLoginPolicyWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := NewScopedRateLimiter(NewLocalLimiter(clock.Now), 5, 15*time.Minute, FailClosed, "login").Middleware()(okHandler())

	for i := 0; i < 5; i++ {
		if rr := hit(h, http.MethodPost, "/auth/login", "10.0.0.1:1234"); rr.Code != http.StatusNoContent {
			t.Fatalf("attempt %d expected allowed, got %d", i+1, rr.Code)
		}
		clock.Advance(time.Minute)
	}
	rr := hit(h, http.MethodPost, "/auth/login", "10.0.0.1:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected rate limit headers, got %v", rr.Header())
	}
	if rr := hit(h, http.MethodPost, "/auth/login", "10.0.0.2:1234"); rr.Code != http.StatusNoContent {
		t.Fatalf("other client expected allowed, got %d", rr.Code)
	}

	clock.Advance(15 * time.Minute)
	if rr := hit(h, http.MethodPost, "/auth/login", "10.0.0.1:1234"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected allowed after window, got %d", rr.Code)
	}
}

func TestScopesShareBackendIndependently(t *testing.T) {
	backend := NewLocalLimiter(nil)
	login := NewScopedRateLimiter(backend, 1, time.Hour, FailClosed, "login").Middleware()(okHandler())
	register := NewScopedRateLimiter(backend, 1, time.Hour, FailClosed, "register").Middleware()(okHandler())

	if rr := hit(login, http.MethodPost, "/auth/login", "10.0.0.1:1"); rr.Code != http.StatusNoContent {
		t.Fatalf("login expected allowed, got %d", rr.Code)
	}
	if rr := hit(register, http.MethodPost, "/auth/register", "10.0.0.1:1"); rr.Code != http.StatusNoContent {
		t.Fatalf("register expected its own budget, got %d", rr.Code)
	}
}

func TestDeniedJSONEnvelope(t *testing.T) {
	h := NewRateLimiter(1, time.Minute).Middleware()(okHandler())
	hit(h, http.MethodGet, "/", "10.0.0.1:1")
	rr := hit(h, http.MethodGet, "/", "10.0.0.1:1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"RATE_LIMITED"`) || !strings.Contains(rr.Body.String(), "You have exceeded the rate limit") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestRedirectWithFlashDenied(t *testing.T) {
	rl := NewScopedRateLimiter(NewLocalLimiter(nil), 1, time.Hour, FailClosed, "login").
		WithDeniedHandler(RedirectWithFlash("/auth/login", "Too many login attempts. Please try again after 15 minutes."))
	h := rl.Middleware()(okHandler())

	hit(h, http.MethodPost, "/auth/login", "10.0.0.1:1")
	rc := webctx.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req = req.WithContext(webctx.With(req.Context(), rc))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound || rr.Header().Get("Location") != "/auth/login" {
		t.Fatalf("expected redirect, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
	if p := rc.Pending(); len(p) != 1 || !strings.HasPrefix(p[0].Message, "Too many login attempts") {
		t.Fatalf("unexpected flashes %+v", p)
	}
}

func TestBackendFailureModes(t *testing.T) {
	open := NewScopedRateLimiter(failingLimiter{}, 5, time.Minute, FailOpen, "api").Middleware()(okHandler())
	if rr := hit(open, http.MethodGet, "/", "10.0.0.1:1"); rr.Code != http.StatusNoContent {
		t.Fatalf("fail_open expected allowed, got %d", rr.Code)
	}
	closed := NewScopedRateLimiter(failingLimiter{}, 5, time.Minute, FailClosed, "api").Middleware()(okHandler())
	if rr := hit(closed, http.MethodGet, "/", "10.0.0.1:1"); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("fail_closed expected 429, got %d", rr.Code)
	}
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewRedisFixedWindowLimiter(client, "vendi:rl", clock.Now)
	policy := newRateLimitPolicy(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := limiter.Allow(ctx, "register:10.0.0.1", policy)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("attempt %d: unexpected decision %+v", i+1, d)
		}
	}
	d, err := limiter.Allow(ctx, "register:10.0.0.1", policy)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Hour {
		t.Fatalf("expected denial with retry within the hour, got %+v", d)
	}

	clock.Advance(time.Hour)
	d, err = limiter.Allow(ctx, "register:10.0.0.1", policy)
	if err != nil || !d.Allowed {
		t.Fatalf("expected new window to allow, got %+v err=%v", d, err)
	}

	mr.Close()
	if _, err := limiter.Allow(ctx, "register:10.0.0.1", policy); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestClientIPKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientIPKey(req); got != "2001:db8::1" {
		t.Fatalf("clientIPKey()=%q", got)
	}
	req.RemoteAddr = "not-an-ip"
	if got := clientIPKey(req); got != "not-an-ip" {
		t.Fatalf("clientIPKey()=%q", got)
	}
}

func TestLocalLimiterSweepKeepsLongWindows(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewLocalLimiter(clock.Now)
	ctx := context.Background()
	hourly := newRateLimitPolicy(1, time.Hour)
	minutely := newRateLimitPolicy(1, time.Minute)

	if d, _ := limiter.Allow(ctx, "register:10.0.0.1", hourly); !d.Allowed {
		t.Fatal("first register hit expected allowed")
	}
	if d, _ := limiter.Allow(ctx, "api:10.0.0.1", minutely); !d.Allowed {
		t.Fatal("first api hit expected allowed")
	}

	clock.Advance(2 * time.Minute)
	if d, _ := limiter.Allow(ctx, "api:10.0.0.1", minutely); !d.Allowed {
		t.Fatal("api window expected to have reset")
	}
	d, _ := limiter.Allow(ctx, "register:10.0.0.1", hourly)
	if d.Allowed {
		t.Fatal("sweep must not forget hits still inside a longer window")
	}
	if d.RetryAfter != 58*time.Minute {
		t.Fatalf("expected 58m retry, got %v", d.RetryAfter)
	}
}

// loginHandler redirects to the dashboard for the right password and back
// to the form otherwise.
func loginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("password") == "right" {
			http.Redirect(w, r, "/user/dashboard", http.StatusFound)
			return
		}
		http.Redirect(w, r, LoginPath, http.StatusFound)
	})
}

func TestRefundedSuccessesDoNotCount(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := NewScopedRateLimiter(NewLocalLimiter(clock.Now), 5, 15*time.Minute, FailClosed, "login").
		WithRefund(RedirectsTo("/user/dashboard")).
		Middleware()(loginHandler())

	for i := 0; i < 3; i++ {
		rr := hit(h, http.MethodPost, "/auth/login?password=right", "10.0.0.1:1234")
		if rr.Header().Get("Location") != "/user/dashboard" {
			t.Fatalf("success %d: unexpected response %d %q", i+1, rr.Code, rr.Header().Get("Location"))
		}
		clock.Advance(time.Second)
	}
	for i := 0; i < 5; i++ {
		rr := hit(h, http.MethodPost, "/auth/login?password=wrong", "10.0.0.1:1234")
		if rr.Header().Get("Location") != LoginPath || rr.Header().Get("Retry-After") != "" {
			t.Fatalf("failure %d: expected to reach the handler, got %d %v", i+1, rr.Code, rr.Header())
		}
	}
	rr := hit(h, http.MethodPost, "/auth/login?password=right", "10.0.0.1:1234")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected sixth failure-counted attempt to be limited, got %d", rr.Code)
	}
}

func TestRefundIgnoresReleaseErrors(t *testing.T) {
	h := NewScopedRateLimiter(failingLimiter{}, 5, time.Minute, FailOpen, "login").
		WithRefund(RedirectsTo("/user/dashboard")).
		Middleware()(loginHandler())
	rr := hit(h, http.MethodPost, "/auth/login?password=right", "10.0.0.1:1234")
	if rr.Header().Get("Location") != "/user/dashboard" {
		t.Fatalf("fail-open request should reach the handler, got %d", rr.Code)
	}
}

func TestLocalLimiterReleaseRemovesOneHit(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewLocalLimiter(clock.Now)
	policy := newRateLimitPolicy(2, time.Minute)
	ctx := context.Background()

	first, _ := limiter.Allow(ctx, "login:a", policy)
	second, _ := limiter.Allow(ctx, "login:a", policy)
	if !first.Allowed || !second.Allowed {
		t.Fatal("expected both hits allowed")
	}
	if err := limiter.Release(ctx, "login:a", policy, second.HitAt); err != nil {
		t.Fatalf("release: %v", err)
	}
	if d, _ := limiter.Allow(ctx, "login:a", policy); !d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected released slot to be reusable once, got %+v", d)
	}
	if d, _ := limiter.Allow(ctx, "login:a", policy); d.Allowed {
		t.Fatal("expected limit after the released slot is used")
	}
	if err := limiter.Release(ctx, "login:unknown", policy, clock.Now()); err != nil {
		t.Fatalf("release of unknown key: %v", err)
	}
}

func TestRedisLimiterRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewRedisFixedWindowLimiter(client, "vendi:rl", clock.Now)
	policy := newRateLimitPolicy(1, 15*time.Minute)
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "login:10.0.0.1", policy)
	if err != nil || !d.Allowed {
		t.Fatalf("allow: %+v err=%v", d, err)
	}
	if err := limiter.Release(ctx, "login:10.0.0.1", policy, d.HitAt); err != nil {
		t.Fatalf("release: %v", err)
	}
	if d, err := limiter.Allow(ctx, "login:10.0.0.1", policy); err != nil || !d.Allowed {
		t.Fatalf("expected released slot to be reusable, got %+v err=%v", d, err)
	}

	// A hit from an expired bucket must not create a negative counter.
	if err := limiter.Release(ctx, "login:10.0.0.1", policy, d.HitAt.Add(-time.Hour)); err != nil {
		t.Fatalf("release old bucket: %v", err)
	}
	if got := len(mr.Keys()); got != 1 {
		t.Fatalf("expected only the live bucket key, got %v", mr.Keys())
	}
}
