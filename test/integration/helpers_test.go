package integration

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vendi-market/vendi/internal/health"
	"github.com/vendi-market/vendi/internal/http/authcookie"
	"github.com/vendi-market/vendi/internal/http/handler"
	"github.com/vendi-market/vendi/internal/http/middleware"
	"github.com/vendi-market/vendi/internal/http/render"
	"github.com/vendi-market/vendi/internal/http/router"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"
	"github.com/vendi-market/vendi/internal/service"
)

const (
	sessionCookie  = "vendi.sid"
	rememberCookie = "vendi_remember"
	testSecret     = "integration-secret-0123456789abcdef"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturedReset struct {
	Email string
	Link  string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []capturedReset
}

func (n *captureNotifier) NotifyPasswordReset(_ context.Context, email, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, capturedReset{Email: email, Link: link})
	return nil
}

func (n *captureNotifier) Sent() []capturedReset {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]capturedReset(nil), n.sent...)
}

type marketplace struct {
	baseURL  string
	clock    *clock
	notifier *captureNotifier
	users    repository.UserRepository
}

func newMarketplaceServer(t *testing.T) *marketplace {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        clk.Now,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repository.AutoMigrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = repository.Close(db) })

	users := repository.NewUserRepository(db)
	hasher := security.NewPasswordHasher(4, 4)
	sessions := service.NewSessionService(service.NewInMemorySessionStore(clk.Now), 7*24*time.Hour, clk.Now, rand.Reader, quiet)
	remember := service.NewRememberTokenService(repository.NewRememberTokenRepository(db), hasher, 30*24*time.Hour, clk.Now, rand.Reader, quiet)
	resets := service.NewPasswordResetService(users, repository.NewPasswordResetRepository(db), hasher, time.Hour, clk.Now, rand.Reader)
	notifier := &captureNotifier{}

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()
	auth := service.NewAuthService(users, hasher, sessions, remember, resets, notifier, baseURL, clk.Now, quiet)

	renderer, err := render.New()
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	signer := security.NewCookieSigner("vendi", testSecret, clk.Now)
	policy := security.CookiePolicy{}
	jar := authcookie.NewJar(signer, policy, sessionCookie, rememberCookie, 7*24*time.Hour, 30*24*time.Hour)
	limiterBackend := middleware.NewLocalLimiter(clk.Now)

	srv.Config.Handler = router.NewRouter(router.Dependencies{
		AuthHandler: handler.NewAuthHandler(auth, jar, renderer),
		PageHandler: handler.NewPageHandler(renderer),
		Resolver:    auth,
		CookieJar:   jar,
		Flash:       middleware.NewFlashCodec(signer, policy, "vendi_flash"),
		CSRF:        middleware.NewCSRF(signer, policy, "vendi_csrf", 7*24*time.Hour, rand.Reader),
		RateLimiters: router.RateLimiters{
			Global: middleware.NewScopedRateLimiter(limiterBackend, 1000, 15*time.Minute, middleware.FailClosed, "api").Middleware(),
			Login: middleware.NewScopedRateLimiter(limiterBackend, 5, 15*time.Minute, middleware.FailClosed, "login").
				WithDeniedHandler(middleware.RedirectWithFlash("/auth/login", handler.MsgTooManyLogins)).
				WithRefund(middleware.RedirectsTo(handler.DashboardPath)).Middleware(),
			Register: middleware.NewScopedRateLimiter(limiterBackend, 3, time.Hour, middleware.FailClosed, "register").
				WithDeniedHandler(middleware.RedirectWithFlash("/auth/register", handler.MsgTooManyRegistrations)).Middleware(),
			Reset: middleware.NewScopedRateLimiter(limiterBackend, 3, time.Hour, middleware.FailClosed, "reset").
				WithDeniedHandler(middleware.RedirectWithFlash("/auth/forgot-password", handler.MsgTooManyResets)).Middleware(),
		},
		Readiness: health.NewProbeRunner(time.Second, 0, health.NewDBChecker(db)),
	})
	srv.Start()
	t.Cleanup(srv.Close)

	return &marketplace{baseURL: baseURL, clock: clk, notifier: notifier, users: users}
}

// browser keeps cookies between requests and never follows redirects, so
// each hop can be inspected.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

func (m *marketplace) newBrowser(t *testing.T) *browser {
	t.Helper()
	cj, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &browser{
		t:    t,
		base: m.baseURL,
		client: &http.Client{
			Jar:     cj,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type page struct {
	Status   int
	Location string
	Body     string
	Cookies  []*http.Cookie
}

func (b *browser) do(req *http.Request) page {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatalf("read body: %v", err)
	}
	p := page{Status: resp.StatusCode, Location: resp.Header.Get("Location"), Body: string(body), Cookies: resp.Cookies()}
	if token := csrfField.FindStringSubmatch(p.Body); token != nil {
		b.csrf = token[1]
	}
	return p
}

var csrfField = regexp.MustCompile(`name="_csrf" value="([^"]+)"`)

func (b *browser) get(path string) page {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	return b.do(req)
}

// post submits a form with the CSRF token most recently seen in a page.
func (b *browser) post(path string, form url.Values) page {
	b.t.Helper()
	if b.csrf == "" {
		b.get("/auth/login")
	}
	if form == nil {
		form = url.Values{}
	}
	form.Set("_csrf", b.csrf)
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// follow posts the form and loads the redirect target, returning both.
func (b *browser) postAndFollow(path string, form url.Values) (page, page) {
	b.t.Helper()
	first := b.post(path, form)
	if first.Status != http.StatusFound {
		b.t.Fatalf("POST %s: expected 302, got %d", path, first.Status)
	}
	return first, b.get(first.Location)
}

func (b *browser) cookie(name string) *http.Cookie {
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func registrationForm(name, email, password string) url.Values {
	return url.Values{
		"full_name":        {name},
		"email":            {email},
		"password":         {password},
		"confirm_password": {password},
	}
}
