//go:build wireinject

package app

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/vendi-market/vendi/internal/config"
	"github.com/vendi-market/vendi/internal/http/handler"
	"github.com/vendi-market/vendi/internal/http/middleware"
	"github.com/vendi-market/vendi/internal/http/render"
	"github.com/vendi-market/vendi/internal/repository"
	"github.com/vendi-market/vendi/internal/security"
	"github.com/vendi-market/vendi/internal/service"
)

var infraSet = wire.NewSet(
	provideNow,
	provideRandom,
	provideRuntime,
	provideDB,
	provideRedis,
	provideReadiness,
)

var repositorySet = wire.NewSet(
	repository.NewUserRepository,
	repository.NewRememberTokenRepository,
	repository.NewPasswordResetRepository,
)

var serviceSet = wire.NewSet(
	providePasswordHasher,
	wire.Bind(new(service.PasswordHasher), new(*security.PasswordHasher)),
	provideSessionStore,
	provideSessionService,
	provideRememberTokenService,
	providePasswordResetService,
	provideResetNotifier,
	provideAuthService,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
	wire.Bind(new(middleware.IdentityResolver), new(*service.AuthService)),
	provideBackgroundTasks,
)

var httpSet = wire.NewSet(
	provideCookieSigner,
	provideCookiePolicy,
	provideCookieJar,
	provideFlashCodec,
	provideCSRF,
	provideRateLimiters,
	render.New,
	wire.Bind(new(render.Renderer), new(*render.TemplateRenderer)),
	handler.NewAuthHandler,
	handler.NewPageHandler,
	provideRouterDependencies,
	provideHTTPHandler,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*App, func(), error) {
	wire.Build(infraSet, repositorySet, serviceSet, httpSet, New)
	return nil, nil, nil
}
