package budget

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically evicts expired cache entries so a quiet cache does not
// hold dead values until the next read.
type Sweeper struct {
	cron  *cron.Cron
	cache *Cache
	spec  string
}

// NewSweeper creates a Sweeper firing every interval.
func NewSweeper(cache *Cache, interval time.Duration) *Sweeper {
	return &Sweeper{
		cron:  cron.New(),
		cache: cache,
		spec:  fmt.Sprintf("@every %s", interval),
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if n := s.cache.Sweep(); n > 0 {
			slog.Debug("cache sweep", "removed", n)
		}
	})
	if err != nil {
		return fmt.Errorf("registering sweep job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop shuts down the scheduler.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}
