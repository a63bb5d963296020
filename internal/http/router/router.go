package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vendi-market/vendi/internal/health"
	"github.com/vendi-market/vendi/internal/http/authcookie"
	"github.com/vendi-market/vendi/internal/http/handler"
	"github.com/vendi-market/vendi/internal/http/middleware"
	"github.com/vendi-market/vendi/internal/http/render"
	"github.com/vendi-market/vendi/internal/http/response"
)

type Dependencies struct {
	AuthHandler *handler.AuthHandler
	PageHandler *handler.PageHandler
	Resolver    middleware.IdentityResolver
	CookieJar   *authcookie.Jar
	Flash       *middleware.FlashCodec
	CSRF        *middleware.CSRF

	APIRateLimit       int
	APIRateLimitWindow time.Duration
	RateLimiters       RateLimiters

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

// RateLimiters holds the per-route gates. A nil entry falls back to an
// in-process limiter for the global policy and to no gate otherwise.
type RateLimiters struct {
	Global   func(http.Handler) http.Handler
	Login    func(http.Handler) http.Handler
	Register func(http.Handler) http.Handler
	Reset    func(http.Handler) http.Handler
}

const maxBodyBytes = 1 << 20

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(maxBodyBytes))
	if dep.RateLimiters.Global != nil {
		r.Use(dep.RateLimiters.Global)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimit, dep.APIRateLimitWindow).Middleware())
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	web := chi.Chain(
		middleware.Flash(dep.Flash),
		dep.CSRF.Middleware,
		middleware.Identity(dep.Resolver, dep.CookieJar),
	)
	login := optional(dep.RateLimiters.Login)
	register := optional(dep.RateLimiters.Register)
	reset := optional(dep.RateLimiters.Reset)

	r.Group(func(r chi.Router) {
		r.Use(web...)
		r.Get("/", dep.PageHandler.Home)

		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireGuest)
				r.Get("/login", dep.AuthHandler.LoginPage)
				r.With(login).Post("/login", dep.AuthHandler.Login)
				r.Get("/register", dep.AuthHandler.RegisterPage)
				r.With(register).Post("/register", dep.AuthHandler.Register)
				r.Get("/forgot-password", dep.AuthHandler.ForgotPasswordPage)
				r.With(reset).Post("/forgot-password", dep.AuthHandler.ForgotPassword)
				r.Get("/reset-password/{token}", dep.AuthHandler.ResetPasswordPage)
				r.Post("/reset-password/{token}", dep.AuthHandler.ResetPassword)
			})
			r.Get("/logout", dep.AuthHandler.LogoutLink)
			r.Post("/logout", dep.AuthHandler.Logout)
			r.With(middleware.RequireAuth).Post("/logout-all", dep.AuthHandler.LogoutAll)
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Use(middleware.NoStore)
			r.Get("/dashboard", dep.PageHandler.Static(render.PageDashboard, "Vendi - Dashboard"))
			r.Get("/profile", dep.PageHandler.Static(render.PageProfile, "Vendi - Profile"))
			r.Get("/settings", dep.PageHandler.Static(render.PageSettings, "Vendi - Settings"))
			r.Get("/post-ad", dep.PageHandler.Static(render.PagePostAd, "Vendi - Post Ad"))
			r.Get("/my-ads", dep.PageHandler.Static(render.PageMyAds, "Vendi - My Ads"))
			r.Get("/saved-items", dep.PageHandler.Static(render.PageSavedItems, "Vendi - Saved Items"))
			r.Get("/chat", dep.PageHandler.Static(render.PageChat, "Vendi - Chat"))
		})
	})
	r.NotFound(web.HandlerFunc(dep.PageHandler.NotFound).ServeHTTP)

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

func optional(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw != nil {
		return mw
	}
	return func(next http.Handler) http.Handler { return next }
}
