// Package health runs the readiness probes behind /health/ready.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vendi-market/vendi/internal/repository"
)

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// ProbeRunner runs every checker concurrently under one timeout. Checks
// slower than slowThreshold are logged.
type ProbeRunner struct {
	timeout       time.Duration
	slowThreshold time.Duration
	checkers      []Checker
}

func NewProbeRunner(timeout, slowThreshold time.Duration, checkers ...Checker) *ProbeRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ProbeRunner{timeout: timeout, slowThreshold: slowThreshold, checkers: checkers}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]CheckResult, len(p.checkers))
	var wg sync.WaitGroup
	for i, c := range p.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			start := time.Now()
			res := c.Check(ctx)
			elapsed := time.Since(start)
			res.DurationMS = elapsed.Milliseconds()
			if p.slowThreshold > 0 && elapsed > p.slowThreshold {
				slog.WarnContext(ctx, "readiness check slow", "check", res.Name, "duration_ms", res.DurationMS)
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()

	ready := true
	for _, res := range results {
		if !res.Healthy {
			ready = false
		}
	}
	return ready, results
}

type DBChecker struct {
	db *gorm.DB
}

func NewDBChecker(db *gorm.DB) DBChecker {
	return DBChecker{db: db}
}

func (c DBChecker) Check(ctx context.Context) CheckResult {
	if err := repository.Ping(ctx, c.db); err != nil {
		return CheckResult{Name: "db", Healthy: false, Error: err.Error()}
	}
	return CheckResult{Name: "db", Healthy: true}
}

type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) RedisChecker {
	return RedisChecker{client: client}
}

func (c RedisChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Name: "redis", Healthy: false, Error: err.Error()}
	}
	return CheckResult{Name: "redis", Healthy: true}
}
