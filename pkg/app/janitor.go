package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dyike/stockdesk/internal/cache"
	"github.com/dyike/stockdesk/internal/logger"
)

// StaleGrace is how long an expired entry stays around for stale serves
// before the janitor drops it.
const StaleGrace = time.Hour

// Janitor periodically purges long-expired cache entries and logs the
// cache counters.
type Janitor struct {
	cron   *cron.Cron
	cache  *cache.LRU
	logger *zap.Logger
}

func NewJanitor(c *cache.LRU, l *zap.Logger) *Janitor {
	return &Janitor{cron: cron.New(), cache: c, logger: logger.OrNop(l)}
}

// Start schedules the sweep on spec, e.g. "@every 5m".
func (j *Janitor) Start(spec string) error {
	if _, err := j.cron.AddFunc(spec, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("cache janitor started", zap.String("spec", spec))
	return nil
}

func (j *Janitor) Sweep() {
	n := j.cache.Purge(StaleGrace)
	st := j.cache.Stats()
	j.logger.Info("cache sweep",
		zap.Int("purged", n),
		zap.Int("entries", st.Entries),
		zap.Uint64("hits", st.Hits),
		zap.Uint64("misses", st.Misses),
		zap.Uint64("stale_serves", st.StaleServes),
		zap.Uint64("evictions", st.Evictions),
	)
}

// Stop waits for a running sweep to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	j.logger.Info("cache janitor stopped")
}
