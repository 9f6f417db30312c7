package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/labworkcell/orchestrator/internal/metrics"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

// TaskAuditRecord is the single table this package owns: one row per task
// that reached a terminal status. It is never read back into the live Task
// Registry on restart — it exists purely for historical queries.
type TaskAuditRecord struct {
	TaskID       string `gorm:"primaryKey"`
	CmdType      string `gorm:"index"`
	Status       string `gorm:"index"`
	SubmitTime   time.Time
	StartTime    *time.Time
	EndTime      *time.Time
	SuccessCount int
	Total        int
	ErrorMessage string
	ResultJSON   string `gorm:"type:text"`
}

// Store implements taskengine.AuditSink against a GORM-backed database.
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewStore wraps an already-opened *gorm.DB (see Open) as a Store. metrics
// may be nil, in which case terminal counts are simply not recorded.
func NewStore(db *gorm.DB, logger *zap.Logger, reg *metrics.Registry) *Store {
	return &Store{db: db, logger: logger.Named("audit"), metrics: reg}
}

// RecordTerminal writes one row for a task's terminal snapshot and, if a
// metrics registry was supplied, increments the terminal-outcome counter. A
// write failure is logged at warn and never escalated — per spec.md §7,
// audit persistence is observability, not task-stratum state.
func (s *Store) RecordTerminal(snap taskengine.Snapshot) {
	if s.metrics != nil {
		s.metrics.TasksTerminal.WithLabelValues(snap.CmdType, string(snap.Status)).Inc()
	}

	rec := TaskAuditRecord{
		TaskID:       snap.TaskID,
		CmdType:      snap.CmdType,
		Status:       string(snap.Status),
		SubmitTime:   snap.SubmitTime,
		StartTime:    snap.StartTime,
		EndTime:      snap.EndTime,
		ErrorMessage: snap.ErrorMessage,
	}

	successCount, total := extractCounts(snap.Result)
	rec.SuccessCount = successCount
	rec.Total = total

	if snap.Result != nil {
		if b, err := json.Marshal(snap.Result); err == nil {
			rec.ResultJSON = string(b)
		}
	}

	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Warn("failed to write audit record",
			zap.String("task_id", snap.TaskID),
			zap.Error(err),
		)
	}
}

// Query parameters for ListTasks.
type Query struct {
	Limit   int
	CmdType string
	Status  string
}

// ListTasks returns the most recent audit records matching the query,
// newest first.
func (s *Store) ListTasks(ctx context.Context, q Query) ([]TaskAuditRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	tx := s.db.WithContext(ctx).Order("submit_time desc").Limit(limit)
	if q.CmdType != "" {
		tx = tx.Where("cmd_type = ?", q.CmdType)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}

	var out []TaskAuditRecord
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListTasksJSON adapts ListTasks to the internal/api.AuditQuerier interface
// so the HTTP layer does not need to import gorm-backed types directly.
func (s *Store) ListTasksJSON(limit int, cmdType, status string) (any, error) {
	return s.ListTasks(context.Background(), Query{Limit: limit, CmdType: cmdType, Status: status})
}

// Prune deletes audit records whose submit_time is older than olderThan.
// Called periodically by internal/supervisor.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("submit_time < ?", olderThan).Delete(&TaskAuditRecord{})
	return res.RowsAffected, res.Error
}

// extractCounts reaches into a result document for success_count/total if
// the underlying type carries them under those json tags (command.ResultDoc
// does). Anything else, including scan.ResultDoc, yields zero values.
func extractCounts(result any) (successCount, total int) {
	if result == nil {
		return 0, 0
	}
	b, err := json.Marshal(result)
	if err != nil {
		return 0, 0
	}
	var shape struct {
		SuccessCount int `json:"success_count"`
		Total        int `json:"total"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return 0, 0
	}
	return shape.SuccessCount, shape.Total
}
