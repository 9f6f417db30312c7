package taskengine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/labworkcell/orchestrator/internal/inventory"
)

type echoHandler struct {
	cmdType string
	run     func(ctx context.Context, h *Handle, params json.RawMessage) (any, error)
}

func (e *echoHandler) CmdType() string { return e.cmdType }
func (e *echoHandler) Handle(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
	return e.run(ctx, h, params)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(zap.NewNop(), nil)
}

func TestSubmitUnknownCmdType(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Submit("NOPE", nil)
	if err != ErrUnknownCmdType {
		t.Fatalf("want ErrUnknownCmdType, got %v", err)
	}
}

func TestSubmitAndCompleteRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler(&echoHandler{cmdType: "PING", run: func(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
		return map[string]any{"pong": true}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, err := e.Submit("PING", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := waitTerminal(t, e, taskID)
	if snap.Status != StatusCompleted {
		t.Fatalf("want COMPLETED, got %v (%s)", snap.Status, snap.ErrorMessage)
	}
}

func TestHandlerErrorFailsTask(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler(&echoHandler{cmdType: "BOOM", run: func(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
		return nil, errBoom
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, _ := e.Submit("BOOM", nil)
	snap := waitTerminal(t, e, taskID)
	if snap.Status != StatusFailed {
		t.Fatalf("want FAILED, got %v", snap.Status)
	}
	if snap.ErrorMessage == "" {
		t.Fatalf("want error message set")
	}
}

func TestTerminalTaskIsImmutable(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler(&echoHandler{cmdType: "PING", run: func(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
		return "ok", nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, _ := e.Submit("PING", nil)
	first := waitTerminal(t, e, taskID)

	if err := e.Cancel(taskID); err != ErrTaskTerminal {
		t.Fatalf("want ErrTaskTerminal on cancel-after-complete, got %v", err)
	}

	second, err := e.Status(taskID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if second.EndTime == nil || first.EndTime == nil || !second.EndTime.Equal(*first.EndTime) {
		t.Fatalf("terminal task end_time changed: %v vs %v", first.EndTime, second.EndTime)
	}
}

// Scenario 5: ENTER_ID rendezvous.
func TestEnterIDRendezvousAdvancesWaitingTask(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler(&echoHandler{cmdType: "SCAN_QRCODE", run: func(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
		h.SetCurrentBottleInfo(map[string]any{"type": "glass_bottle_500"})
		p, err := h.AwaitEnterID(ctx, ValidateBottleType(inventory.Glass500))
		if err != nil {
			return nil, err
		}
		return map[string]any{"scanned_bottles": []string{p.BottleID}}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, _ := e.Submit("SCAN_QRCODE", nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := e.Status(taskID)
		if snap.Status == StatusWaiting {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := e.Status(taskID)
	if snap.Status != StatusWaiting {
		t.Fatalf("want WAITING, got %v", snap.Status)
	}

	if err := e.EnterID("BTL-9", inventory.Glass500); err != nil {
		t.Fatalf("enter_id: %v", err)
	}

	final := waitTerminal(t, e, taskID)
	if final.Status != StatusCompleted {
		t.Fatalf("want COMPLETED, got %v", final.Status)
	}
}

func TestEnterIDNoWaitingTask(t *testing.T) {
	e := newTestEngine(t)
	if err := e.EnterID("B1", inventory.Glass500); err != ErrNoWaitingTask {
		t.Fatalf("want ErrNoWaitingTask, got %v", err)
	}
}

func TestEnterIDTypeMismatchKeepsWaiting(t *testing.T) {
	e := newTestEngine(t)
	attempts := make(chan struct{}, 2)
	e.RegisterHandler(&echoHandler{cmdType: "SCAN_QRCODE", run: func(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
		for {
			_, err := h.AwaitEnterID(ctx, ValidateBottleType(inventory.Glass500))
			attempts <- struct{}{}
			if err == nil {
				return "ok", nil
			}
		}
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, _ := e.Submit("SCAN_QRCODE", nil)
	waitStatus(t, e, taskID, StatusWaiting)

	if err := e.EnterID("B1", inventory.Glass1000); err != ErrTypeMismatch {
		t.Fatalf("want ErrTypeMismatch, got %v", err)
	}
	<-attempts

	snap, _ := e.Status(taskID)
	if snap.Status != StatusWaiting {
		t.Fatalf("want task to remain WAITING after mismatch, got %v", snap.Status)
	}

	if err := e.EnterID("B2", inventory.Glass500); err != nil {
		t.Fatalf("enter_id: %v", err)
	}
	waitTerminal(t, e, taskID)
}

// Two concurrent ENTER_IDs racing the same waiting point: exactly one
// succeeds.
func TestConcurrentEnterIDExactlyOneWins(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterHandler(&echoHandler{cmdType: "SCAN_QRCODE", run: func(ctx context.Context, h *Handle, params json.RawMessage) (any, error) {
		_, err := h.AwaitEnterID(ctx, ValidateBottleType(inventory.Glass500))
		return "ok", err
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, _ := e.Submit("SCAN_QRCODE", nil)
	waitStatus(t, e, taskID, StatusWaiting)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.EnterID("B", inventory.Glass500)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("want exactly 1 success, got %d (%v)", successes, results)
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func waitTerminal(t *testing.T, e *Engine, taskID string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.Status(taskID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached terminal state", taskID)
	return Snapshot{}
}

func waitStatus(t *testing.T, e *Engine, taskID string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := e.Status(taskID)
		if snap.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %v", taskID, want)
}
