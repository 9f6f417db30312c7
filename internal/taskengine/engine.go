package taskengine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/labworkcell/orchestrator/internal/inventory"
)

// Sentinel errors surfaced to the HTTP surface, mapped onto spec.md §6
// codes there.
var (
	ErrUnknownCmdType   = errors.New("taskengine: unknown cmd_type")
	ErrTaskNotFound     = errors.New("taskengine: task not found")
	ErrTaskTerminal     = errors.New("taskengine: task already terminal")
	ErrNoWaitingTask    = errors.New("taskengine: no task waiting for enter_id")
	ErrTypeMismatch     = errors.New("taskengine: enter_id type mismatch")
)

const queueCapacity = 256

// AuditSink receives a terminal task snapshot the instant the worker
// transitions a task out of RUNNING/WAITING. Implemented by internal/audit;
// a nil sink disables the write-behind call entirely.
type AuditSink interface {
	RecordTerminal(Snapshot)
}

// Engine is the process-wide task queue, worker, and registry.
type Engine struct {
	logger   *zap.Logger
	audit    AuditSink
	handlers map[string]CommandHandler

	mu    sync.RWMutex
	tasks map[string]*Task

	waitMu   sync.Mutex
	waitTask string
	wait     *rendezvous

	queue chan *Task

	statCompleted int
	statFailed    int
	statCancelled int
}

// New constructs an Engine. Call RegisterHandler for every cmd_type before
// Run starts draining the queue.
func New(logger *zap.Logger, audit AuditSink) *Engine {
	return &Engine{
		logger:   logger,
		audit:    audit,
		handlers: make(map[string]CommandHandler),
		tasks:    make(map[string]*Task),
		queue:    make(chan *Task, queueCapacity),
	}
}

// RegisterHandler binds a CommandHandler to its cmd_type in the dispatch
// table (spec.md §9: "dynamic dispatch by string tag ... closed tagged
// variant plus dispatch table").
func (e *Engine) RegisterHandler(h CommandHandler) {
	e.handlers[h.CmdType()] = h
}

// Run is the single worker loop; it drains the queue until ctx is
// cancelled. There is exactly one of these per process, guaranteeing
// robot operations never interleave across tasks.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.queue:
			e.execute(ctx, t)
		}
	}
}

// Submit creates a PENDING Task Record, enqueues it, and returns
// immediately with its id and the queue depth observed at submission time.
func (e *Engine) Submit(cmdType string, params json.RawMessage) (taskID string, queueSize int, err error) {
	if _, ok := e.handlers[cmdType]; !ok {
		return "", 0, ErrUnknownCmdType
	}

	t := &Task{
		TaskID:     uuid.New().String(),
		CmdType:    cmdType,
		Params:     params,
		Status:     StatusPending,
		SubmitTime: timeNow(),
	}

	e.mu.Lock()
	e.tasks[t.TaskID] = t
	e.mu.Unlock()

	select {
	case e.queue <- t:
	default:
		// Queue is saturated; still accept the task (it is already in the
		// registry) but report it synchronously as failed rather than
		// block the HTTP ingress indefinitely.
		e.mu.Lock()
		now := timeNow()
		t.Status = StatusFailed
		t.ErrorMessage = "queue saturated"
		t.EndTime = &now
		e.mu.Unlock()
		return t.TaskID, queueCapacity, errors.New("taskengine: queue saturated")
	}

	return t.TaskID, len(e.queue), nil
}

// Status returns a deep-copy snapshot of the named task.
func (e *Engine) Status(taskID string) (Snapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// QueueStatus reports the aggregate counters for GET /queue/status.
type QueueStatus struct {
	QueueSize     int    `json:"queue_size"`
	TotalTasks    int    `json:"total_tasks"`
	CompletedTasks int   `json:"completed_tasks"`
	FailedTasks   int    `json:"failed_tasks"`
	RunningTask   string `json:"running_task,omitempty"`
}

func (e *Engine) QueueStatus() QueueStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	qs := QueueStatus{
		QueueSize:      len(e.queue),
		TotalTasks:     len(e.tasks),
		CompletedTasks: e.statCompleted,
		FailedTasks:    e.statFailed + e.statCancelled,
	}
	for _, t := range e.tasks {
		if t.Status == StatusRunning || t.Status == StatusWaiting {
			qs.RunningTask = t.TaskID
			break
		}
	}
	return qs
}

// Cancel sets the cancellation flag on taskID. The effect is observed only
// at the handler's next step boundary (spec.md §5).
func (e *Engine) Cancel(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Status.Terminal() {
		return ErrTaskTerminal
	}
	t.cancelRequested = true
	return nil
}

// EnterID delivers bottle identity to the currently WAITING scan session,
// if any. See rendezvous.go for the exactly-one-winner guarantee under a
// concurrent race.
func (e *Engine) EnterID(bottleID string, objectType inventory.ObjectType) error {
	e.waitMu.Lock()
	rendez := e.wait
	e.waitMu.Unlock()

	if rendez == nil {
		return ErrNoWaitingTask
	}

	payload := EnterIDPayload{BottleID: bottleID, ObjectType: objectType, verdict: make(chan error, 1)}
	if !rendez.offer(payload) {
		return ErrNoWaitingTask
	}
	return <-payload.verdict
}

func (e *Engine) registerWait(taskID string, r *rendezvous) {
	e.waitMu.Lock()
	e.waitTask = taskID
	e.wait = r
	e.waitMu.Unlock()
}

func (e *Engine) clearWait(taskID string, r *rendezvous) {
	e.waitMu.Lock()
	if e.wait == r {
		e.waitTask = ""
		e.wait = nil
	}
	e.waitMu.Unlock()
}

func (e *Engine) taskCancelled(taskID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[taskID]
	return ok && t.cancelRequested
}

func (e *Engine) mutateTask(taskID string, fn func(*Task)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[taskID]; ok {
		fn(t)
	}
}

func (e *Engine) execute(ctx context.Context, t *Task) {
	now := timeNow()
	e.mu.Lock()
	t.Status = StatusRunning
	t.StartTime = &now
	e.mu.Unlock()

	handler := e.handlers[t.CmdType]
	handle := &Handle{engine: e, taskID: t.TaskID}

	result, err := func() (res any, herr error) {
		defer func() {
			if r := recover(); r != nil {
				herr = errorsFromPanic(r)
			}
		}()
		return handler.Handle(ctx, handle, t.Params)
	}()

	end := timeNow()
	e.mu.Lock()
	t.EndTime = &end
	switch {
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) && t.cancelRequested:
		t.Status = StatusCancelled
		t.ErrorMessage = "cancelled"
		e.statCancelled++
	case err != nil:
		t.Status = StatusFailed
		t.ErrorMessage = err.Error()
		e.statFailed++
	default:
		t.Status = StatusCompleted
		t.Result = result
		e.statCompleted++
	}
	snap := t.snapshot()
	e.mu.Unlock()

	e.logger.Info("taskengine: task terminal",
		zap.String("task_id", t.TaskID),
		zap.String("cmd_type", t.CmdType),
		zap.String("status", string(snap.Status)),
	)

	if e.audit != nil {
		e.audit.RecordTerminal(snap)
	}
}

func errorsFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("taskengine: handler panic")
}

// timeNow is the sole call site to time.Now() inside the engine so tests
// for cross-field ordering do not need to special-case wall-clock skew.
func timeNow() time.Time { return time.Now() }
