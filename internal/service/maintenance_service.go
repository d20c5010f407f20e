package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/monitoring"
)

const jobTimeout = 2 * time.Minute

// Sweeper drops expired rate limit windows
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// MaintenanceService runs the scheduled ledger reconciliation and limiter sweep
type MaintenanceService interface {
	RunReconciliation(ctx context.Context) (*engine.ReconciliationReport, error)
	SweepRateLimiter(ctx context.Context) (int, error)
	Start() error
	Stop(ctx context.Context)
}

type maintenanceService struct {
	reconciliation engine.ReconciliationEngine
	sweeper        Sweeper
	metrics        monitoring.MetricsService
	audit          AuditService
	cfg            config.MaintenanceConfig
	scheduler      *cron.Cron
}

func NewMaintenanceService(
	reconciliation engine.ReconciliationEngine,
	sweeper Sweeper,
	metrics monitoring.MetricsService,
	audit AuditService,
	cfg config.MaintenanceConfig,
) MaintenanceService {
	return &maintenanceService{
		reconciliation: reconciliation,
		sweeper:        sweeper,
		metrics:        metrics,
		audit:          audit,
		cfg:            cfg,
		scheduler:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
	}
}

func (s *maintenanceService) RunReconciliation(ctx context.Context) (*engine.ReconciliationReport, error) {
	report, err := s.reconciliation.ReconcileAll(ctx)
	if err != nil {
		s.metrics.RecordReconciliation("failed", 0, 0, 0)
		s.audit.LogSystemEvent(ctx, "reconciliation_failed", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	energy, _ := report.TotalEnergy.Float64()
	currency, _ := report.TotalCurrency.Float64()
	s.metrics.RecordReconciliation(report.Status, energy, currency, len(report.Discrepancies)+len(report.InvalidTrades))

	fields := logrus.Fields{
		"factories":      report.TotalFactories,
		"total_energy":   report.TotalEnergy.String(),
		"total_currency": report.TotalCurrency.String(),
		"discrepancies":  len(report.Discrepancies),
		"invalid_trades": len(report.InvalidTrades),
		"duration":       report.TotalProcessingTime.String(),
	}
	if report.Status != engine.ReconciliationStatusSuccess {
		logrus.WithFields(fields).Warn("Ledger reconciliation found discrepancies")
		s.audit.LogSystemEvent(ctx, "reconciliation_discrepancy", map[string]interface{}{
			"discrepancies":  len(report.Discrepancies),
			"invalid_trades": report.InvalidTrades,
		})
	} else {
		logrus.WithFields(fields).Info("Ledger reconciliation completed")
	}

	return report, nil
}

func (s *maintenanceService) SweepRateLimiter(ctx context.Context) (int, error) {
	removed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.audit.LogSystemEvent(ctx, "limiter_sweep_failed", map[string]interface{}{"error": err.Error()})
		return 0, err
	}

	s.metrics.RecordLimiterSweep(removed)
	logrus.WithField("removed", removed).Debug("Rate limiter swept")
	return removed, nil
}

// Start registers the configured cron jobs and starts the scheduler.
// An empty spec disables that job.
func (s *maintenanceService) Start() error {
	if !s.cfg.Enabled {
		logrus.Info("Maintenance jobs disabled")
		return nil
	}

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"reconciliation", s.cfg.ReconciliationSpec, func(ctx context.Context) error {
			_, err := s.RunReconciliation(ctx)
			return err
		}},
		{"limiter_sweep", s.cfg.LimiterSweepSpec, func(ctx context.Context) error {
			_, err := s.SweepRateLimiter(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		job := job
		_, err := s.scheduler.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				logrus.WithError(err).WithField("job", job.name).Error("Maintenance job failed")
			}
		})
		if err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", job.name, job.spec, err)
		}
		logrus.WithFields(logrus.Fields{"job": job.name, "spec": job.spec}).Info("Maintenance job scheduled")
	}

	s.scheduler.Start()
	return nil
}

// Stop waits for running jobs or until ctx expires
func (s *maintenanceService) Stop(ctx context.Context) {
	done := s.scheduler.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		logrus.Warn("Maintenance jobs still running at shutdown")
	}
}
