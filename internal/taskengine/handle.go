package taskengine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/labworkcell/orchestrator/internal/inventory"
)

// ErrCancelled is returned by Handle methods once the task's cancellation
// flag has been observed, so a command handler can unwind via the
// return-and-cancel subroutine and let the worker mark it CANCELLED.
var ErrCancelled = errors.New("taskengine: task cancelled")

// CommandHandler decomposes one cmd_type into primitive calls. Handle gives
// it controlled access back into its own Task Record; params is the raw
// JSON body the HTTP ingress validated only at the envelope level.
type CommandHandler interface {
	CmdType() string
	Handle(ctx context.Context, h *Handle, params json.RawMessage) (any, error)
}

// Handle is a command handler's capability token for its own running task:
// it can report progress, check for cooperative cancellation at step
// boundaries, and block for an ENTER_ID rendezvous.
type Handle struct {
	engine *Engine
	taskID string
}

// TaskID returns the id of the task this Handle belongs to.
func (h *Handle) TaskID() string { return h.taskID }

// SetCurrentStep records a human-readable label for the step the handler is
// about to execute, visible to status pollers.
func (h *Handle) SetCurrentStep(step string) {
	h.engine.mutateTask(h.taskID, func(t *Task) {
		t.CurrentStep = step
	})
}

// AppendCompletedStep appends to the task's audit trail.
func (h *Handle) AppendCompletedStep(step string) {
	h.engine.mutateTask(h.taskID, func(t *Task) {
		t.CompletedSteps = append(t.CompletedSteps, step)
	})
}

// SetCurrentBottleInfo updates the scan session's currently-processed
// detection, polled by clients waiting for status to reach WAITING.
func (h *Handle) SetCurrentBottleInfo(info any) {
	h.engine.mutateTask(h.taskID, func(t *Task) {
		t.CurrentBottleInfo = info
	})
}

// Cancelled reports whether a CANCEL command has been accepted against this
// task. Handlers must only consult this at step boundaries, never assume it
// changes mid-primitive.
func (h *Handle) Cancelled() bool {
	return h.engine.taskCancelled(h.taskID)
}

// CheckCancelled is a convenience that returns ErrCancelled when Cancelled
// is true, for handlers that want a single error-check idiom at each step
// boundary.
func (h *Handle) CheckCancelled() error {
	if h.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// AwaitEnterID transitions the task to WAITING, blocks until an ENTER_ID
// delivers a payload or ctx is cancelled, validates it with validate, and
// reports the verdict back to the ENTER_ID caller synchronously. On a
// validation error the rendezvous is torn down and the task remains
// WAITING — callers should loop, calling AwaitEnterID again to accept a
// corrected ENTER_ID, per spec.md §8's "task remains WAITING" boundary
// behavior.
func (h *Handle) AwaitEnterID(ctx context.Context, validate func(EnterIDPayload) error) (EnterIDPayload, error) {
	// Register before reporting WAITING, and report RUNNING before answering
	// the caller, so a poller never sees a status the rendezvous contradicts.
	rendez := newRendezvous()
	h.engine.registerWait(h.taskID, rendez)
	defer h.engine.clearWait(h.taskID, rendez)

	h.engine.mutateTask(h.taskID, func(t *Task) {
		t.Status = StatusWaiting
	})

	select {
	case <-ctx.Done():
		return EnterIDPayload{}, ctx.Err()
	case p := <-rendez.ch:
		if err := validate(p); err != nil {
			p.verdict <- err
			return EnterIDPayload{}, err
		}
		h.engine.mutateTask(h.taskID, func(t *Task) {
			t.Status = StatusRunning
		})
		p.verdict <- nil
		return p, nil
	}
}

// ValidateBottleType is the standard ENTER_ID validator for the Scan State
// Machine: the operator-entered type must match the vision-detected type.
func ValidateBottleType(expected inventory.ObjectType) func(EnterIDPayload) error {
	return func(p EnterIDPayload) error {
		if p.ObjectType != expected {
			return ErrTypeMismatch
		}
		return nil
	}
}
