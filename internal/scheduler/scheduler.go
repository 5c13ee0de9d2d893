package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/CptDat9/loomix-vault-factory/internal/factory"
	"github.com/CptDat9/loomix-vault-factory/internal/metrics"
	"github.com/CptDat9/loomix-vault-factory/internal/store"
	"github.com/CptDat9/loomix-vault-factory/internal/vault"
)

// Summary counts the outcome of one reporting pass.
type Summary struct {
	Reported int
	Failed   int
}

// Scheduler manages the periodic keeper jobs.
type Scheduler struct {
	Cron    *cron.Cron
	Factory *factory.Factory
	Store   store.Store
	Metrics *metrics.Metrics
	Keeper  string
	Logger  *zap.Logger
	Ctx     context.Context
}

// NewScheduler creates a Scheduler. st and m may be nil.
func NewScheduler(ctx context.Context, f *factory.Factory, st store.Store, m *metrics.Metrics, keeper string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		Factory: f,
		Store:   st,
		Metrics: m,
		Keeper:  keeper,
		Logger:  logger.Named("scheduler"),
		Ctx:     ctx,
	}
}

// RegisterAll registers the report and snapshot jobs.
func (s *Scheduler) RegisterAll(reportCron, snapshotCron string) error {
	if _, err := s.Cron.AddFunc(reportCron, func() { s.RunReportsNow() }); err != nil {
		return fmt.Errorf("register report task: %w", err)
	}
	if snapshotCron == "" {
		return nil
	}
	if _, err := s.Cron.AddFunc(snapshotCron, s.SnapshotNow); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started", zap.Int("jobs", len(s.Cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.Logger.Info("scheduler stopped")
}

// RunReportsNow reports every active strategy of every vault as the keeper.
// A failing strategy is logged and counted; the pass continues.
func (s *Scheduler) RunReportsNow() Summary {
	var sum Summary
	for _, v := range s.Factory.Vaults() {
		for _, entry := range v.Strategies() {
			if !entry.Active() {
				continue
			}
			if s.Ctx.Err() != nil {
				return sum
			}
			report, err := v.ProcessReport(s.Ctx, s.Keeper, entry.ID)
			if err != nil {
				sum.Failed++
				kind := vault.KindOf(err)
				s.Metrics.IncJobFailure("report", kind.String())
				s.Logger.Warn("strategy report failed",
					zap.String("vault", v.ID()),
					zap.String("strategy", entry.ID),
					zap.Stringer("kind", kind),
					zap.Error(err))
				continue
			}
			sum.Reported++
			s.Logger.Debug("strategy reported",
				zap.String("vault", v.ID()),
				zap.String("strategy", entry.ID),
				zap.String("gain", report.Gain.Dec()),
				zap.String("loss", report.Loss.Dec()))
		}
	}
	s.Logger.Info("report pass finished", zap.Int("reported", sum.Reported), zap.Int("failed", sum.Failed))
	return sum
}

// SnapshotNow persists every vault and refreshes the gauges.
func (s *Scheduler) SnapshotNow() {
	for _, v := range s.Factory.Vaults() {
		snap := v.Snapshot()
		s.Metrics.Observe(snap)
		if s.Store == nil {
			continue
		}
		if err := s.Store.Save(snap); err != nil {
			s.Metrics.IncJobFailure("snapshot", "store")
			s.Logger.Error("persist snapshot failed", zap.String("vault", v.ID()), zap.Error(err))
		}
	}
}
