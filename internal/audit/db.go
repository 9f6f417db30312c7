// Package audit is the durable trail of terminal task records. It is
// explicitly not the authoritative inventory or task registry — those stay
// in-memory per spec.md's persistence Non-goal — but an operator still wants
// a durable record of what ran, so every task that reaches a terminal status
// gets one write-behind row here.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver — no CGO required.
	_ "modernc.org/sqlite"
)

// Config holds the configuration required to open the audit database.
type Config struct {
	Driver   string // "sqlite" or "postgres", defaults to "sqlite"
	DSN      string
	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// Open opens the audit database connection and runs AutoMigrate for the
// single task_audit_records table. This store has one table and no schema
// history to manage, so GORM's own AutoMigrate is enough rather than a
// separate migration runner.
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("audit: logger is required")
	}

	gormCfg := &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger, cfg.LogLevel),
	}

	var (
		database *gorm.DB
		sqlDB    *sql.DB
		err      error
	)

	switch cfg.Driver {
	case "sqlite", "":
		sqlDB, err = sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to open sqlite: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)

		database, err = gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to initialize gorm with sqlite: %w", err)
		}

	case "postgres":
		database, err = gorm.Open(gormpostgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to open postgres: %w", err)
		}
		sqlDB, err = database.DB()
		if err != nil {
			return nil, fmt.Errorf("audit: failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)

	default:
		return nil, fmt.Errorf("audit: unsupported driver %q, use \"sqlite\" or \"postgres\"", cfg.Driver)
	}

	if err := database.AutoMigrate(&TaskAuditRecord{}); err != nil {
		return nil, fmt.Errorf("audit: automigrate failed: %w", err)
	}

	return database, nil
}
