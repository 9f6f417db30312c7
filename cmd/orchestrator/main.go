package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/labworkcell/orchestrator/internal/api"
	"github.com/labworkcell/orchestrator/internal/audit"
	"github.com/labworkcell/orchestrator/internal/command"
	"github.com/labworkcell/orchestrator/internal/config"
	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/lock"
	"github.com/labworkcell/orchestrator/internal/logging"
	"github.com/labworkcell/orchestrator/internal/metrics"
	"github.com/labworkcell/orchestrator/internal/rpc"
	"github.com/labworkcell/orchestrator/internal/scan"
	"github.com/labworkcell/orchestrator/internal/supervisor"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}
	robotsFlag := ""

	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Lab workcell orchestrator — command decomposition and robot dispatch",
		Long: `The orchestrator accepts high-level bottle-handling commands over HTTP,
decomposes them into navigation-minimizing robot primitive sequences, and
tracks their progress through a single-worker task engine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			robots, err := config.ParseRobots(robotsFlag)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			cfg.Robots = robots
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	defaults := config.Defaults()
	root.PersistentFlags().StringVar(&cfg.HTTPAddr, "http-addr", defaults.HTTPAddr, "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.LogFile, "log-file", defaults.LogFile, "Append-only run log path (empty disables file logging)")
	root.PersistentFlags().StringVar(&cfg.LockFile, "lock-file", defaults.LockFile, "Single-instance lock file path")
	root.PersistentFlags().StringVar(&cfg.AuditDriver, "audit-driver", defaults.AuditDriver, "Audit store driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.AuditDSN, "audit-dsn", defaults.AuditDSN, "Audit store DSN or file path for sqlite")
	root.PersistentFlags().DurationVar(&cfg.DefaultPrimitiveTimeout, "primitive-timeout", defaults.DefaultPrimitiveTimeout, "Default robot primitive timeout (parsed but not applied; each primitive call times out after 10s)")
	root.PersistentFlags().DurationVar(&cfg.RetryInterval, "retry-interval", defaults.RetryInterval, "RPC reconnect retry interval (parsed but not applied; the RPC client backs off from 0.5s, doubling up to 30s, with jitter)")
	root.PersistentFlags().IntVar(&cfg.MaxRetryAttempts, "max-retry-attempts", defaults.MaxRetryAttempts, "Max RPC reconnect attempts, 0 = unlimited (parsed but not applied; the RPC client retries without limit)")
	root.PersistentFlags().StringVar(&robotsFlag, "robots", os.Getenv("ORCH_ROBOTS"), "Comma-separated name@wsURL robot connections")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("orchestrator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// exitError carries a specific process exit code through cobra's RunE,
// per spec.md §6's exit code table.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.Build(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("failed to build logger: %w", err)}
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting orchestrator",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Int("robot_count", len(cfg.Robots)),
	)

	// --- 1. Single-instance lock ---
	lockHandle, err := lock.Acquire(cfg.LockFile)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return &exitError{code: 1, err: fmt.Errorf("another orchestrator instance holds %s", cfg.LockFile)}
		}
		return &exitError{code: 2, err: err}
	}
	defer lockHandle.Release() //nolint:errcheck

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 2. Inventory ---
	inv := inventory.New()
	seedInventory(inv)

	// --- 3. Metrics ---
	reg := metrics.New()

	// --- 4. Robot connection pool ---
	if len(cfg.Robots) == 0 {
		return &exitError{code: 2, err: fmt.Errorf("no robots configured — set --robots or ORCH_ROBOTS")}
	}
	pool := rpc.NewPool(logger.Named("rpc"))
	for _, r := range cfg.Robots {
		pool.Add(ctx, r.Name, r.URL)
	}
	primary := pool.MustGet(cfg.Robots[0].Name)

	if !waitForAnyConnection(ctx, pool, 10*time.Second) {
		return &exitError{code: 3, err: fmt.Errorf("no robot connected within the startup retry budget")}
	}

	// --- 5. Audit store ---
	auditDB, err := audit.Open(audit.Config{
		Driver:   cfg.AuditDriver,
		DSN:      cfg.AuditDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("failed to open audit store: %w", err)}
	}
	auditStore := audit.NewStore(auditDB, logger, reg)

	// --- 6. Task engine ---
	engine := taskengine.New(logger.Named("taskengine"), auditStore)
	engine.RegisterHandler(&command.PickUpHandler{Inv: inv, Robot: primary})
	engine.RegisterHandler(&command.PutToHandler{Inv: inv, Robot: primary})
	engine.RegisterHandler(&command.TransferHandler{Inv: inv, Robot: primary})
	engine.RegisterHandler(&scan.Handler{Inv: inv, Robot: primary})
	go engine.Run(ctx)

	// --- 7. Supervisor ---
	sup, err := supervisor.New(pool, auditStore, reg, logger, supervisor.Config{})
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("failed to create supervisor: %w", err)}
	}
	sup.Start()
	defer func() {
		if err := sup.Stop(); err != nil {
			logger.Warn("supervisor shutdown error", zap.Error(err))
		}
	}()

	// --- 8. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Engine:  engine,
		Inv:     inv,
		Pool:    pool,
		Audit:   auditStore,
		Metrics: reg,
		Logger:  logger.Named("api"),
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down orchestrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
	return nil
}

// waitForAnyConnection blocks until at least one robot in the pool reports
// connected, or timeout elapses. A fatal RPC initialization failure (exit
// code 3, spec.md §6) is the caller's responsibility to report.
func waitForAnyConnection(ctx context.Context, pool *rpc.Pool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if pool.ConnectedCount() > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return pool.ConnectedCount() > 0
}

// seedInventory loads the fixed slot layout of the workcell. There is no
// persistence across restarts (Non-goal) — every process boot starts from
// this same baseline and learns live bottle placement only through
// subsequent commands.
func seedInventory(inv *inventory.Inventory) {
	types := []inventory.ObjectType{inventory.Glass1000, inventory.Glass500, inventory.Glass250}

	for _, t := range types {
		suffix := string(t)
		inv.LoadSlot(inventory.Slot{
			PoseName: "back_temp_" + suffix, Category: inventory.CategoryBackPlatform,
			NavigationPose: "back_platform", AcceptedType: t, Capacity: 2,
		})
		inv.LoadSlot(inventory.Slot{
			PoseName: "split_" + suffix, Category: inventory.CategorySplitStation,
			NavigationPose: "split_station", AcceptedType: t, Capacity: 4,
		})
		inv.LoadSlot(inventory.Slot{
			PoseName: "detect_temp_" + suffix, Category: inventory.CategoryDetectTemp,
			NavigationPose: "scan_table", AcceptedType: t, Capacity: 1,
		})
	}
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}
