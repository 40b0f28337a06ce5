package cache

import (
	"context"
	"time"
)

// Pruner is implemented by stores that do not expire entries on their own.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

type pruneLogger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// RunPruner prunes the store once immediately and then every interval until
// ctx is done. It returns at once when the store expires entries itself
// (redis) or interval is not positive.
func (c *Cache) RunPruner(ctx context.Context, interval time.Duration, log pruneLogger) {
	p, ok := c.store.(Pruner)
	if !ok || interval <= 0 {
		return
	}

	prune := func() {
		n, err := p.Prune(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warnf("Cache prune failed: %v", err)
			}
			return
		}
		if n > 0 {
			log.Debugf("Pruned %d expired cache entries", n)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
