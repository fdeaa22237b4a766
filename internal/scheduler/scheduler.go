// Package scheduler runs the periodic retention sweep in serve mode.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/threatline/threatline/internal/storage"
)

// Sweeper deletes expired upload workdirs on a schedule.
type Sweeper struct {
	cron      *cron.Cron
	store     *storage.FS
	retention time.Duration
	log       *zap.Logger
}

// NewSweeper creates a Sweeper removing workdirs older than
// retentionDays. A zero or negative retention disables the sweep.
func NewSweeper(store *storage.FS, retentionDays int, log *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:      cron.New(),
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log,
	}
}

// Start schedules the hourly sweep. No-op when retention is disabled.
func (s *Sweeper) Start() error {
	if s.retention <= 0 {
		s.log.Info("retention sweep disabled")
		return nil
	}
	if _, err := s.cron.AddFunc("@hourly", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("retention sweep scheduled", zap.Duration("retention", s.retention))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	removed, err := s.store.Sweep(context.Background(), s.retention)
	if err != nil {
		s.log.Warn("retention sweep", zap.Error(err))
		return
	}
	if removed > 0 {
		s.log.Info("retention sweep removed workdirs", zap.Int("count", removed))
	}
}
