package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/labworkcell/orchestrator/internal/inventory"
	"github.com/labworkcell/orchestrator/internal/rpc"
	"github.com/labworkcell/orchestrator/internal/taskengine"
)

type fakeRobot struct {
	upgrader  websocket.Upgrader
	mu        sync.Mutex
	cvDetectN int
	respond   func(action string, args map[string]any, cvDetectN int) (result any, remoteErr string)
}

func (f *fakeRobot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		args, _ := req["args"].(map[string]any)
		action, _ := args["action"].(string)

		f.mu.Lock()
		if action == "cv_detect" {
			f.cvDetectN++
		}
		n := f.cvDetectN
		f.mu.Unlock()

		result, remoteErr := f.respond(action, args, n)
		resp := map[string]any{"op": "service_response", "id": req["id"]}
		if remoteErr != "" {
			resp["error"] = remoteErr
		} else {
			resp["result"] = result
		}
		payload, _ := json.Marshal(resp)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func startFakeRobot(t *testing.T, respond func(action string, args map[string]any, cvDetectN int) (any, string)) *rpc.Client {
	t.Helper()
	fr := &fakeRobot{respond: respond}
	srv := httptest.NewServer(fr)
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	c := rpc.New("robot1", wsURL, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fake robot never connected")
	return nil
}

func fixtureInventory() *inventory.Inventory {
	inv := inventory.New()
	inv.LoadSlot(inventory.Slot{PoseName: "back_temp_1000_001", Category: inventory.CategoryBackPlatform, NavigationPose: "back_platform", AcceptedType: inventory.Glass1000, Capacity: 2})
	inv.LoadSlot(inventory.Slot{PoseName: "split_1000_001", Category: inventory.CategorySplitStation, NavigationPose: splitStationNav, AcceptedType: inventory.Glass1000, Capacity: 2})
	return inv
}

// Scenario 5 (spec.md §8): one detection, ENTER_ID rendezvous, final unload.
func TestScanSessionEndToEnd(t *testing.T) {
	inv := fixtureInventory()
	robot := startFakeRobot(t, func(action string, args map[string]any, cvDetectN int) (any, string) {
		switch action {
		case "cv_detect":
			if cvDetectN == 1 {
				return map[string]any{"target_pose": "detect_temp_1", "bottle_type": "glass_bottle_1000"}, ""
			}
			return map[string]any{"target_pose": "", "bottle_type": ""}, ""
		default:
			return map[string]any{"ok": true}, ""
		}
	})

	e := taskengine.New(zap.NewNop(), nil)
	e.RegisterHandler(&Handler{Inv: inv, Robot: robot})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, err := e.Submit("SCAN_QRCODE", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitStatus(t, e, taskID, taskengine.StatusWaiting)
	if err := e.EnterID("BTL-9", inventory.Glass1000); err != nil {
		t.Fatalf("enter_id: %v", err)
	}

	snap := waitTerminal(t, e, taskID)
	if snap.Status != taskengine.StatusCompleted {
		t.Fatalf("want completed, got %v (%s)", snap.Status, snap.ErrorMessage)
	}
	doc, ok := snap.Result.(*ResultDoc)
	if !ok {
		t.Fatalf("want *ResultDoc, got %T", snap.Result)
	}
	if len(doc.ScannedBottles) != 1 || doc.ScannedBottles[0].BottleID != "BTL-9" {
		t.Fatalf("want BTL-9 scanned, got %+v", doc.ScannedBottles)
	}

	b, err := inv.LookupBottle("BTL-9")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if b.Location != "split_1000_001" {
		t.Fatalf("want bottle at split station, got %q", b.Location)
	}
}

// Scenario 4 (spec.md §8): mid-stream temp-area full on the third bottle.
func TestScanSessionReturnsBottleOnOverCapacity(t *testing.T) {
	inv := fixtureInventory()
	var enterIDCalls int
	var mu sync.Mutex

	robot := startFakeRobot(t, func(action string, args map[string]any, cvDetectN int) (any, string) {
		switch action {
		case "cv_detect":
			if cvDetectN <= 3 {
				return map[string]any{"target_pose": "detect_temp", "bottle_type": "glass_bottle_1000"}, ""
			}
			return map[string]any{"target_pose": "", "bottle_type": ""}, ""
		default:
			return map[string]any{"ok": true}, ""
		}
	})

	e := taskengine.New(zap.NewNop(), nil)
	e.RegisterHandler(&Handler{Inv: inv, Robot: robot})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	taskID, _, err := e.Submit("SCAN_QRCODE", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 0; i < 2; i++ {
		waitStatus(t, e, taskID, taskengine.StatusWaiting)
		mu.Lock()
		enterIDCalls++
		id := enterIDCalls
		mu.Unlock()
		if err := e.EnterID(bottleIDFor(id), inventory.Glass1000); err != nil {
			t.Fatalf("enter_id #%d: %v", id, err)
		}
	}

	snap := waitTerminal(t, e, taskID)
	if snap.Status != taskengine.StatusCompleted {
		t.Fatalf("want completed, got %v (%s)", snap.Status, snap.ErrorMessage)
	}
	doc := snap.Result.(*ResultDoc)
	if len(doc.ScannedBottles) != 2 {
		t.Fatalf("want 2 scanned bottles, got %d: %+v", len(doc.ScannedBottles), doc.ScannedBottles)
	}
	if len(doc.FailedDetections) != 1 {
		t.Fatalf("want 1 failed detection (over capacity), got %+v", doc.FailedDetections)
	}
}

func bottleIDFor(i int) string {
	return "BTL-" + string(rune('0'+i))
}

func waitStatus(t *testing.T, e *taskengine.Engine, taskID string, want taskengine.Status) {
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

func waitTerminal(t *testing.T, e *taskengine.Engine, taskID string) taskengine.Snapshot {
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
	t.Fatalf("task %s never reached a terminal status", taskID)
	return taskengine.Snapshot{}
}
