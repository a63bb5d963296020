package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadCounterOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordLoadOutcome counts config loads by environment and failure class.
// It goes through the global meter, so it is a no-op until telemetry is up.
func recordLoadOutcome(ctx context.Context, env string, err error) {
	loadCounterOnce.Do(func() {
		c, cerr := otel.Meter("vendi/config").Int64Counter(
			"vendi.config.loads",
			metric.WithDescription("Configuration load attempts by outcome"),
		)
		if cerr == nil {
			loadCounter = c
		}
	})
	if loadCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", envLabel(env)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", loadErrorClass(err)),
	))
}

// envLabel keeps the env attribute to a closed set.
func envLabel(env string) string {
	switch v := strings.ToLower(strings.TrimSpace(env)); v {
	case EnvDevelopment, EnvProduction, EnvTest:
		return v
	case "":
		return "unset"
	default:
		return "other"
	}
}

func loadErrorClass(err error) string {
	var parseErr *ParseError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.Is(err, ErrInvalid):
		return "validation"
	default:
		return "load"
	}
}
