// Package scheduler wires up the cron job that periodically reconciles every
// claimant that has search criteria.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/matching"
)

// ClaimantSource lists the claimants a cycle visits.
type ClaimantSource interface {
	ListClaimantsWithCriteria(ctx context.Context) ([]int64, error)
}

// Runner reconciles one claimant. *matching.Reconciler satisfies it.
type Runner interface {
	Run(ctx context.Context, req matching.Request) (*matching.Report, error)
}

// CycleStats summarises one reconciliation cycle.
type CycleStats struct {
	Claimants int
	Succeeded int
	Busy      int
	Failed    int
	Created   int
	Updated   int
}

// Scheduler wraps robfig/cron and manages the reconciliation loop.
type Scheduler struct {
	cron        *cron.Cron
	source      ClaimantSource
	runner      Runner
	spec        string // cron spec, e.g. "@every 6h"
	parallelism int
	log         *zap.Logger
}

// New creates a Scheduler firing on spec, reconciling at most parallelism
// claimants at a time.
func New(source ClaimantSource, runner Runner, spec string, parallelism int, log *zap.Logger) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Scheduler{
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		source:      source,
		runner:      runner,
		spec:        spec,
		parallelism: parallelism,
		log:         logger.WithFields(log, zap.String("component", "scheduler")),
	}
}

// Start registers the job and starts the scheduler. It also runs one cycle
// immediately so matches exist without waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.RunCycle(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc(%q): %w", s.spec, err)
	}

	s.cron.Start()
	s.log.Info("cron started", zap.String("spec", s.spec), zap.Int("parallelism", s.parallelism))

	go s.RunCycle(ctx)

	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron stopped")
}

// RunCycle reconciles every claimant with criteria. A failing claimant does
// not stop the others.
func (s *Scheduler) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	s.log.Info("reconcile cycle started")

	claimants, err := s.source.ListClaimantsWithCriteria(ctx)
	if err != nil {
		s.log.Error("list claimants failed", zap.Error(err))
		return stats
	}
	stats.Claimants = len(claimants)
	if len(claimants) == 0 {
		s.log.Info("no claimants with criteria, nothing to reconcile")
		return stats
	}

	var succeeded, busy, failed, created, updated atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, id := range claimants {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rep, err := s.runner.Run(gctx, matching.Request{ClaimantID: id})
			if rep != nil {
				created.Add(int64(rep.Created))
				updated.Add(int64(rep.Updated))
			}
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, matching.ErrRunInProgress):
				busy.Add(1)
				s.log.Debug("claimant busy, skipped", zap.Int64(logger.FieldClaimantID, id))
			default:
				failed.Add(1)
				s.log.Warn("claimant reconcile failed", zap.Int64(logger.FieldClaimantID, id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Succeeded = int(succeeded.Load())
	stats.Busy = int(busy.Load())
	stats.Failed = int(failed.Load())
	stats.Created = int(created.Load())
	stats.Updated = int(updated.Load())
	s.log.Info("reconcile cycle complete",
		zap.Int("claimants", stats.Claimants),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("busy", stats.Busy),
		zap.Int("failed", stats.Failed),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
	)
	return stats
}
