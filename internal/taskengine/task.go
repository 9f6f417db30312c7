// Package taskengine implements the single FIFO queue, single worker, and
// task registry of spec.md §4.7: submit/status/enter_id/cancel over a
// multi-producer single-consumer channel, with a rendezvous primitive
// backing the ENTER_ID WAITING → RUNNING handoff.
package taskengine

import (
	"encoding/json"
	"time"
)

// Status is a Task's lifecycle state. Once a Task reaches a terminal
// status it is never mutated again (spec.md §3 Task Record invariant).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether s is one of the three terminal statuses.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is the Task Record of spec.md §3. The Engine owns the live instance
// behind its registry mutex; callers only ever see a Snapshot copy.
type Task struct {
	TaskID          string
	CmdType         string
	Params          json.RawMessage
	Status          Status
	SubmitTime      time.Time
	StartTime       *time.Time
	EndTime         *time.Time
	Result          any
	CurrentStep     string
	CompletedSteps  []string
	ErrorMessage    string
	CurrentBottleInfo any
	cancelRequested bool
}

// Snapshot is an immutable, deep-enough copy of a Task safe to hand to
// readers outside the registry lock.
type Snapshot struct {
	TaskID            string          `json:"task_id"`
	CmdType           string          `json:"cmd_type"`
	Status            Status          `json:"status"`
	SubmitTime        time.Time       `json:"submit_time"`
	StartTime         *time.Time      `json:"start_time,omitempty"`
	EndTime           *time.Time      `json:"end_time,omitempty"`
	Result            any             `json:"result,omitempty"`
	CurrentStep       string          `json:"current_step,omitempty"`
	CompletedSteps    []string        `json:"completed_steps,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	CurrentBottleInfo any             `json:"current_bottle_info,omitempty"`
}

func (t *Task) snapshot() Snapshot {
	return Snapshot{
		TaskID:            t.TaskID,
		CmdType:           t.CmdType,
		Status:            t.Status,
		SubmitTime:        t.SubmitTime,
		StartTime:         t.StartTime,
		EndTime:           t.EndTime,
		Result:            t.Result,
		CurrentStep:       t.CurrentStep,
		CompletedSteps:    append([]string(nil), t.CompletedSteps...),
		ErrorMessage:      t.ErrorMessage,
		CurrentBottleInfo: t.CurrentBottleInfo,
	}
}
