package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vendi-market/vendi/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/vendi-market/vendi"

type AppMetrics struct {
	authLoginCounter       metric.Int64Counter
	authRegisterCounter    metric.Int64Counter
	authLogoutCounter      metric.Int64Counter
	rememberCounter        metric.Int64Counter
	passwordResetCounter   metric.Int64Counter
	identityCounter        metric.Int64Counter
	repositoryCounter      metric.Int64Counter
	rateLimitCounter       metric.Int64Counter
	rateLimitRetryAfter    metric.Float64Histogram
	passwordHashDuration   metric.Float64Histogram
	sessionStoreErrCounter metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	var mp *sdkmetric.MeterProvider
	if !cfg.OTELMetricsEnabled {
		mp = sdkmetric.NewMeterProvider()
		logger.Info("otel metrics disabled")
	} else {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create metric resource: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	}
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return mp, nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var (
		m   AppMetrics
		err error
	)
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.register.attempts", &m.authRegisterCounter},
		{"auth.logout.events", &m.authLogoutCounter},
		{"auth.remember.validations", &m.rememberCounter},
		{"auth.password_reset.events", &m.passwordResetCounter},
		{"auth.identity.resolutions", &m.identityCounter},
		{"repository.operations", &m.repositoryCounter},
		{"http.rate_limit.decisions", &m.rateLimitCounter},
		{"session.store.errors", &m.sessionStoreErrCounter},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
	}
	m.rateLimitRetryAfter, err = meter.Float64Histogram("http.rate_limit.retry_after", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.passwordHashDuration, err = meter.Float64Histogram("security.password_hash.duration", metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authLoginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthRegister(ctx context.Context, status string) {
	if m := current(); m != nil {
		m.authRegisterCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func RecordAuthLogout(ctx context.Context, scope string) {
	if m := current(); m != nil {
		m.authLogoutCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
	}
}

func RecordRememberValidation(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.rememberCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordPasswordReset(ctx context.Context, event, status string) {
	if m := current(); m != nil {
		m.passwordResetCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("status", status),
		))
	}
}

func RecordIdentityResolution(ctx context.Context, state string) {
	if m := current(); m != nil {
		m.identityCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
	}
}

func RecordRepositoryOperation(ctx context.Context, repo, operation, outcome string) {
	if m := current(); m != nil {
		m.repositoryCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("repository", repo),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode, keyType string) {
	if m := current(); m != nil {
		m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
			attribute.String("mode", mode),
			attribute.String("key_type", keyType),
		))
	}
}

func RecordRateLimitRetryAfter(ctx context.Context, scope, reason string, d time.Duration) {
	if m := current(); m != nil {
		m.rateLimitRetryAfter.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("reason", reason),
		))
	}
}

func RecordPasswordHash(ctx context.Context, operation string, d time.Duration) {
	if m := current(); m != nil {
		m.passwordHashDuration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

func RecordSessionStoreError(ctx context.Context, backend, operation string) {
	if m := current(); m != nil {
		m.sessionStoreErrCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", operation),
		))
	}
}
