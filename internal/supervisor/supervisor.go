// Package supervisor wraps gocron to run the two background jobs that have
// no natural home inside the request-driven core: a per-robot liveness
// sweep and periodic audit-store pruning. Disabling it changes nothing
// about command semantics — it is purely ambient.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/labworkcell/orchestrator/internal/metrics"
	"github.com/labworkcell/orchestrator/internal/primitive"
	"github.com/labworkcell/orchestrator/internal/rpc"
)

// Pruner is the subset of internal/audit.Store the Supervisor depends on,
// kept narrow so tests can supply a fake without a real database.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config controls the Supervisor's two sweep intervals and the audit
// retention window.
type Config struct {
	HealthCheckInterval time.Duration
	AuditPruneInterval  time.Duration
	AuditRetention      time.Duration
}

// withDefaults fills in zero-valued fields with sane sweep cadences.
func (c Config) withDefaults() Config {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.AuditPruneInterval <= 0 {
		c.AuditPruneInterval = time.Hour
	}
	if c.AuditRetention <= 0 {
		c.AuditRetention = 30 * 24 * time.Hour
	}
	return c
}

// Supervisor owns a gocron.Scheduler running the liveness and prune jobs.
// The zero value is not usable — construct with New.
type Supervisor struct {
	cron    gocron.Scheduler
	pool    *rpc.Pool
	pruner  Pruner
	logger  *zap.Logger
	metrics *metrics.Registry
	cfg     Config
}

// New creates and schedules the Supervisor's jobs. Call Start to begin
// running them; call Stop for a graceful shutdown.
func New(pool *rpc.Pool, pruner Pruner, reg *metrics.Registry, logger *zap.Logger, cfg Config) (*Supervisor, error) {
	cfg = cfg.withDefaults()

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("supervisor: failed to create gocron scheduler: %w", err)
	}

	sup := &Supervisor{
		cron:    s,
		pool:    pool,
		pruner:  pruner,
		logger:  logger.Named("supervisor"),
		metrics: reg,
		cfg:     cfg,
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.HealthCheckInterval),
		gocron.NewTask(func() { sup.sweepHealth(context.Background()) }),
	); err != nil {
		return nil, fmt.Errorf("supervisor: failed to register health sweep: %w", err)
	}

	if _, err := s.NewJob(
		gocron.DurationJob(cfg.AuditPruneInterval),
		gocron.NewTask(func() { sup.pruneAudit(context.Background()) }),
	); err != nil {
		return nil, fmt.Errorf("supervisor: failed to register audit prune: %w", err)
	}

	return sup, nil
}

// Start begins running the scheduled jobs. Non-blocking.
func (s *Supervisor) Start() {
	s.cron.Start()
	s.logger.Info("supervisor started",
		zap.Duration("health_check_interval", s.cfg.HealthCheckInterval),
		zap.Duration("audit_prune_interval", s.cfg.AuditPruneInterval),
	)
}

// Stop gracefully shuts down the scheduler, waiting for any in-flight job
// to finish.
func (s *Supervisor) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("supervisor: shutdown error: %w", err)
	}
	s.logger.Info("supervisor stopped")
	return nil
}

// sweepHealth issues waiting_navigation_status against every connected
// robot purely to surface a liveness metric. This is distinct from the RPC
// Client's own reconnect logic, which reacts to failures rather than
// polling for them.
func (s *Supervisor) sweepHealth(ctx context.Context) {
	for _, name := range s.pool.Names() {
		client, ok := s.pool.Get(name)
		if !ok {
			continue
		}

		connected := client.IsConnected()
		if s.metrics != nil {
			val := 0.0
			if connected {
				val = 1.0
			}
			s.metrics.RobotConnected.WithLabelValues(name).Set(val)
		}
		if !connected {
			continue
		}

		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := primitive.WaitingNavigationStatus(sweepCtx, client)
		cancel()
		if err != nil {
			s.logger.Warn("health sweep: robot did not answer waiting_navigation_status",
				zap.String("robot", name),
				zap.Error(err),
			)
		}
	}
}

// pruneAudit deletes audit rows older than the configured retention window.
func (s *Supervisor) pruneAudit(ctx context.Context) {
	if s.pruner == nil {
		return
	}
	pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.pruner.Prune(pruneCtx, time.Now().Add(-s.cfg.AuditRetention))
	if err != nil {
		s.logger.Warn("audit prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("audit prune complete", zap.Int64("rows_deleted", n))
	}
}
