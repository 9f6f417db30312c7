package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// fakeRobot is a minimal test-only WebSocket peer that echoes a
// service_response for every call_service frame it receives. respond lets a
// test script canned responses or simulate a remote error / dropped
// connection.
type fakeRobot struct {
	upgrader websocket.Upgrader
	respond  func(req map[string]any) (result any, remoteErr string, drop bool)
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
		result, remoteErr, drop := f.respond(req)
		if drop {
			return
		}
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

func startFakeRobot(t *testing.T, respond func(req map[string]any) (any, string, bool)) (wsURL string, srv *httptest.Server) {
	t.Helper()
	fr := &fakeRobot{respond: respond}
	srv = httptest.NewServer(fr)
	t.Cleanup(srv.Close)
	return "ws" + srv.URL[len("http"):], srv
}

func TestSendRequestSuccess(t *testing.T) {
	url, _ := startFakeRobot(t, func(req map[string]any) (any, string, bool) {
		return map[string]any{"ok": true}, "", false
	})

	logger := zap.NewNop()
	c := New("robot1", url, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitConnected(t, c)

	result, err := c.SendRequest(context.Background(), "/navigation_status", "waiting_navigation_status", nil)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(result, &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed["ok"] != true {
		t.Fatalf("want ok=true, got %v", parsed)
	}
}

func TestSendRequestRemoteError(t *testing.T) {
	url, _ := startFakeRobot(t, func(req map[string]any) (any, string, bool) {
		return nil, "gripper fault", false
	})

	c := New("robot1", url, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitConnected(t, c)

	_, err := c.SendRequest(context.Background(), "/get_strawberry_service", "grab_object", nil)
	if err == nil {
		t.Fatalf("want error")
	}
	remoteErr, ok := err.(*RemoteError)
	if !ok {
		t.Fatalf("want *RemoteError, got %T: %v", err, err)
	}
	if remoteErr.Message != "gripper fault" {
		t.Fatalf("want 'gripper fault', got %q", remoteErr.Message)
	}
}

func TestSendRequestDisconnected(t *testing.T) {
	c := New("robot1", "ws://127.0.0.1:1/does-not-exist", zap.NewNop())
	_, err := c.SendRequest(context.Background(), "/navigation_status", "waiting_navigation_status", nil)
	if err != ErrDisconnected {
		t.Fatalf("want ErrDisconnected, got %v", err)
	}
}

func TestSendRequestTimeout(t *testing.T) {
	url, _ := startFakeRobot(t, func(req map[string]any) (any, string, bool) {
		time.Sleep(200 * time.Millisecond)
		return map[string]any{"ok": true}, "", false
	})

	c := New("robot1", url, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	waitConnected(t, c)

	callCtx, callCancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer callCancel()
	_, err := c.SendRequest(callCtx, "/navigation_status", "waiting_navigation_status", nil)
	if err == nil {
		t.Fatalf("want timeout error")
	}
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client never reached connected state")
}
