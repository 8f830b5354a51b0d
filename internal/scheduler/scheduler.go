package scheduler

import (
	"log/slog"
	"time"

	"numgate/internal/db"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily usage-retention job. Quota resets are not handled
// here: day rollover happens lazily on the request path.
type Scheduler struct {
	db            db.Service
	c             *cron.Cron
	logger        *slog.Logger
	retentionDays int
}

func NewScheduler(dbService db.Service, retentionDays int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		db:            dbService,
		c:             cron.New(),
		logger:        logger.With("component", "scheduler"),
		retentionDays: retentionDays,
	}
}

func (s *Scheduler) Start() error {
	if s.retentionDays <= 0 {
		s.logger.Info("Usage retention disabled, keeping records forever")
		return nil
	}

	_, err := s.c.AddFunc("@daily", s.runPrune)
	if err != nil {
		return err
	}

	s.c.Start()
	return nil
}

func (s *Scheduler) runPrune() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	removed, err := s.db.PruneUsageRecords(cutoff)
	if err != nil {
		s.logger.Error("Failed to prune usage records", "error", err)
		return
	}
	s.logger.Info("Pruned old usage records", "removed", removed, "cutoff", cutoff.Format("2006-01-02"))
}

func (s *Scheduler) Stop() {
	s.c.Stop()
}
