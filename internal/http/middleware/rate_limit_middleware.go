package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/vendi-market/vendi/internal/http/response"
	"github.com/vendi-market/vendi/internal/http/webctx"
	"github.com/vendi-market/vendi/internal/observability"
)

type Decision struct {
	Allowed bool
	// HitAt identifies the counted hit for Release.
	HitAt      time.Time
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
	Reason     string
}

// RateLimitPolicy allows Limit requests per key within any Window.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
	// Release gives back a hit previously counted by Allow at hitAt.
	Release(ctx context.Context, key string, policy RateLimitPolicy, hitAt time.Time) error
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// DeniedHandler answers a request the limiter rejected.
type DeniedHandler func(w http.ResponseWriter, r *http.Request, d Decision)

// ResponseMatcher reports whether a finished response should not count
// against the caller's budget.
type ResponseMatcher func(status int, header http.Header) bool

// RedirectsTo matches a 303 or 302 redirect to path.
func RedirectsTo(path string) ResponseMatcher {
	return func(status int, header http.Header) bool {
		return (status == http.StatusFound || status == http.StatusSeeOther) && header.Get("Location") == path
	}
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
	denied  DeniedHandler
	refund  ResponseMatcher
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewScopedRateLimiter(NewLocalLimiter(nil), limit, window, FailClosed, "api")
}

// NewScopedRateLimiter counts requests per client IP under scope, so several
// policies can share one backend.
func NewScopedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  newRateLimitPolicy(limit, window),
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
		denied:  jsonDenied,
	}
}

// WithDeniedHandler replaces the default JSON 429 answer.
func (rl *RateLimiter) WithDeniedHandler(h DeniedHandler) *RateLimiter {
	if h != nil {
		rl.denied = h
	}
	return rl
}

// WithRefund releases the counted hit for responses matching m, so only
// failed attempts use up the budget.
func (rl *RateLimiter) WithRefund(m ResponseMatcher) *RateLimiter {
	rl.refund = m
	return rl
}

func (rl *RateLimiter) WithKeyFunc(keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc != nil {
		rl.keyFunc = keyFunc
	}
	return rl
}

func (rl *RateLimiter) Policy() RateLimitPolicy {
	return rl.policy
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			ctx := r.Context()
			key = rl.scope + ":" + key
			decision, err := rl.limiter.Allow(ctx, key, rl.policy)
			switch {
			case err != nil:
				observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error", string(rl.mode), "ip")
				if rl.mode == FailOpen {
					slog.WarnContext(ctx, "rate limiter backend unavailable, allowing request", "scope", rl.scope, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				slog.ErrorContext(ctx, "rate limiter backend unavailable, rejecting request", "scope", rl.scope, "error", err)
				rl.reject(w, r, Decision{
					RetryAfter: rl.policy.Window,
					ResetAt:    time.Now().Add(rl.policy.Window),
					Reason:     "backend",
				})
			case !decision.Allowed:
				observability.RecordRateLimitDecision(ctx, rl.scope, "deny", string(rl.mode), "ip")
				if decision.Reason == "" {
					decision.Reason = "window"
				}
				rl.reject(w, r, decision)
			default:
				observability.RecordRateLimitDecision(ctx, rl.scope, "allow", string(rl.mode), "ip")
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
				if rl.refund == nil {
					next.ServeHTTP(w, r)
					return
				}
				m := httpsnoop.CaptureMetrics(next, w, r)
				if rl.refund(m.Code, w.Header()) {
					rl.release(ctx, key, decision.HitAt)
				}
			}
		})
	}
}

func (rl *RateLimiter) release(ctx context.Context, key string, hitAt time.Time) {
	if err := rl.limiter.Release(context.WithoutCancel(ctx), key, rl.policy, hitAt); err != nil {
		slog.WarnContext(ctx, "rate limiter release failed", "scope", rl.scope, "error", err)
		return
	}
	observability.RecordRateLimitDecision(ctx, rl.scope, "refund", string(rl.mode), "ip")
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, d Decision) {
	writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, d.ResetAt)
	w.Header().Set("Retry-After", retryAfterHeader(d.RetryAfter))
	observability.RecordRateLimitRetryAfter(r.Context(), rl.scope, d.Reason, d.RetryAfter)
	rl.denied(w, r, d)
}

func jsonDenied(w http.ResponseWriter, r *http.Request, d Decision) {
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED",
		"You have exceeded the rate limit. Please try again later.",
		map[string]any{"retry_after": retryAfterHeader(d.RetryAfter)},
	)
}

// RedirectWithFlash answers a denied form post by sending the caller back to
// path with an error flash.
func RedirectWithFlash(path, message string) DeniedHandler {
	return func(w http.ResponseWriter, r *http.Request, _ Decision) {
		webctx.From(r.Context()).AddFlash(webctx.FlashError, message)
		http.Redirect(w, r, path, http.StatusFound)
	}
}

// clientIPKey relies on chimiddleware.RealIP having rewritten RemoteAddr.
func clientIPKey(r *http.Request) string {
	if ip := parseRequestIP(r); ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

func parseRequestIP(r *http.Request) net.IP {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(strings.Trim(addr, "[]"))
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func newRateLimitPolicy(limit int, window time.Duration) RateLimitPolicy {
	return normalizePolicy(RateLimitPolicy{Limit: limit, Window: window})
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}
