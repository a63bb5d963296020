package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type expiredPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

const rememberPruneInterval = time.Hour

// startRememberPruner deletes expired remember tokens on a fixed interval
// until the returned stop function is called.
func startRememberPruner(pruner expiredPruner, interval time.Duration, logger *slog.Logger) BackgroundStop {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := pruner.PruneExpired(ctx)
				if err != nil {
					logger.WarnContext(ctx, "remember token prune failed", "error", err)
					continue
				}
				if n > 0 {
					logger.InfoContext(ctx, "expired remember tokens pruned", "count", n)
				}
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}
