package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/vendi-market/vendi/internal/config"
	"github.com/vendi-market/vendi/internal/health"
	"github.com/vendi-market/vendi/internal/http/authcookie"
	"github.com/vendi-market/vendi/internal/http/handler"
	"github.com/vendi-market/vendi/internal/http/middleware"
	"github.com/vendi-market/vendi/internal/http/router"
	"github.com/vendi-market/vendi/internal/observability"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"
	"github.com/vendi-market/vendi/internal/service"
)

const cookieIssuer = "vendi"

func provideNow() func() time.Time {
	return func() time.Time { return time.Now().UTC() }
}

func provideRandom() io.Reader { return rand.Reader }

func provideRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*observability.Runtime, error) {
	return observability.InitRuntime(ctx, cfg, logger, lp)
}

func provideDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := repository.Close(db); err != nil {
			logger.Warn("database close failed", "error", err)
		}
	}
	if cfg.DatabaseAutoMigrate {
		if err := repository.AutoMigrate(ctx, db); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, cleanup, nil
}

// provideRedis returns a nil client when REDIS_ADDR is unset; callers fall
// back to in-process stores.
func provideRedis(ctx context.Context, cfg *config.Config, logger *slog.Logger) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close failed", "error", err)
		}
	}, nil
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.BcryptCost, cfg.HashConcurrency)
}

func provideSessionStore(cfg *config.Config, client redis.UniversalClient, now func() time.Time) service.SessionStore {
	if client != nil {
		return service.NewRedisSessionStore(client, cfg.RedisKeyPrefix+":session", now)
	}
	return service.NewInMemorySessionStore(now)
}

func provideSessionService(store service.SessionStore, cfg *config.Config, now func() time.Time, rnd io.Reader, logger *slog.Logger) *service.SessionService {
	return service.NewSessionService(store, cfg.SessionTTL, now, rnd, logger)
}

func provideRememberTokenService(repo repository.RememberTokenRepository, hasher service.PasswordHasher, cfg *config.Config, now func() time.Time, rnd io.Reader, logger *slog.Logger) *service.RememberTokenService {
	return service.NewRememberTokenService(repo, hasher, cfg.RememberTTL, now, rnd, logger)
}

func providePasswordResetService(users repository.UserRepository, repo repository.PasswordResetRepository, hasher service.PasswordHasher, cfg *config.Config, now func() time.Time, rnd io.Reader) *service.PasswordResetService {
	return service.NewPasswordResetService(users, repo, hasher, cfg.PasswordResetTTL, now, rnd)
}

func provideResetNotifier(logger *slog.Logger) service.ResetNotifier {
	return service.NewLogResetNotifier(logger)
}

func provideAuthService(
	users repository.UserRepository,
	hasher service.PasswordHasher,
	sessions *service.SessionService,
	remember *service.RememberTokenService,
	resets *service.PasswordResetService,
	notifier service.ResetNotifier,
	cfg *config.Config,
	now func() time.Time,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(users, hasher, sessions, remember, resets, notifier, cfg.BaseURL, now, logger)
}

func provideCookieSigner(cfg *config.Config, now func() time.Time) *security.CookieSigner {
	return security.NewCookieSigner(cookieIssuer, cfg.SessionSecret, now)
}

func provideCookiePolicy(cfg *config.Config) security.CookiePolicy {
	return security.CookiePolicy{Secure: cfg.IsProduction()}
}

func provideCookieJar(signer *security.CookieSigner, policy security.CookiePolicy, cfg *config.Config) *authcookie.Jar {
	return authcookie.NewJar(signer, policy, cfg.SessionCookieName, cfg.RememberCookieName, cfg.SessionTTL, cfg.RememberTTL)
}

func provideFlashCodec(signer *security.CookieSigner, policy security.CookiePolicy, cfg *config.Config) *middleware.FlashCodec {
	return middleware.NewFlashCodec(signer, policy, cfg.FlashCookieName)
}

func provideCSRF(signer *security.CookieSigner, policy security.CookiePolicy, cfg *config.Config, rnd io.Reader) *middleware.CSRF {
	return middleware.NewCSRF(signer, policy, cfg.CSRFCookieName, cfg.SessionTTL, rnd)
}

func provideRateLimiters(cfg *config.Config, client redis.UniversalClient, now func() time.Time) router.RateLimiters {
	var backend middleware.Limiter
	if cfg.RateLimitBackend == "redis" && client != nil {
		backend = middleware.NewRedisFixedWindowLimiter(client, cfg.RedisKeyPrefix+":rl", now)
	} else {
		backend = middleware.NewLocalLimiter(now)
	}
	mode := middleware.FailureMode(cfg.RateLimitFailureMode)

	return router.RateLimiters{
		Global: middleware.NewScopedRateLimiter(backend, cfg.APIRateLimit, cfg.APIRateLimitWindow, mode, "api").
			Middleware(),
		Login: middleware.NewScopedRateLimiter(backend, cfg.LoginRateLimit, cfg.LoginRateLimitWindow, mode, "login").
			WithDeniedHandler(middleware.RedirectWithFlash(middleware.LoginPath, handler.MsgTooManyLogins)).
			WithRefund(middleware.RedirectsTo(handler.DashboardPath)).
			Middleware(),
		Register: middleware.NewScopedRateLimiter(backend, cfg.RegisterRateLimit, cfg.RegisterRateLimitWindow, mode, "register").
			WithDeniedHandler(middleware.RedirectWithFlash("/auth/register", handler.MsgTooManyRegistrations)).
			Middleware(),
		Reset: middleware.NewScopedRateLimiter(backend, cfg.ResetRateLimit, cfg.ResetRateLimitWindow, mode, "reset").
			WithDeniedHandler(middleware.RedirectWithFlash("/auth/forgot-password", handler.MsgTooManyResets)).
			Middleware(),
	}
}

func provideReadiness(db *gorm.DB, client redis.UniversalClient) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.NewRedisChecker(client))
	}
	return health.NewProbeRunner(2*time.Second, 500*time.Millisecond, checkers...)
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	pageHandler *handler.PageHandler,
	resolver middleware.IdentityResolver,
	jar *authcookie.Jar,
	flash *middleware.FlashCodec,
	csrf *middleware.CSRF,
	limiters router.RateLimiters,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:        authHandler,
		PageHandler:        pageHandler,
		Resolver:           resolver,
		CookieJar:          jar,
		Flash:              flash,
		CSRF:               csrf,
		APIRateLimit:       cfg.APIRateLimit,
		APIRateLimitWindow: cfg.APIRateLimitWindow,
		RateLimiters:       limiters,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.OTELHTTPEnabled,
	}
}

func provideHTTPHandler(dep router.Dependencies) http.Handler {
	return router.NewRouter(dep)
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideBackgroundTasks(remember *service.RememberTokenService, logger *slog.Logger) BackgroundStop {
	return startRememberPruner(remember, rememberPruneInterval, logger)
}
