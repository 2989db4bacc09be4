package usecase

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automagik/omni/core/config"
	"github.com/automagik/omni/trace/domain"
)

const sweepBatchSize = 500

// Sweeper deletes traces past the retention window, payloads included, in
// bounded batches. Idempotent and safe to run from multiple processes.
type Sweeper struct {
	repo domain.ITraceRepository
	cfg  config.TraceConfig
}

func NewSweeper(repo domain.ITraceRepository, cfg config.TraceConfig) *Sweeper {
	return &Sweeper{repo: repo, cfg: cfg}
}

// Start runs the sweep loop until the context is cancelled. One sweep runs
// immediately at startup.
func (s *Sweeper) Start(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		s.Sweep(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep removes expired traces batch by batch until none remain.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	var total int64
	for {
		deleted, err := s.repo.DeleteOlderThan(ctx, cutoff, sweepBatchSize)
		if err != nil {
			logrus.WithError(err).Warn("[TRACE_SWEEPER] Retention sweep batch failed")
			return
		}
		total += deleted
		if deleted < sweepBatchSize {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if total > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted": total,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("[TRACE_SWEEPER] Retention sweep completed")
	}
}
