// Package rpc implements the orchestrator's side of the WebSocket JSON-RPC
// link to a single robot, and a Pool that tracks every robot currently
// dialed. The wire shape is fixed by spec.md §4.2/§6: requests are
// {"op":"call_service","service":<path>,"args":{"action":<name>,...},"id":<n>}
// and replies are {"op":"service_response","id":<n>,"result":...,"error":...}.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	backoffInitial  = 500 * time.Millisecond
	backoffMax      = 30 * time.Second
	backoffFactor   = 2.0
	jitterFraction  = 0.2
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	defaultTimeout  = 10 * time.Second
)

// Sentinel errors surfaced to callers of SendRequest. Command handlers map
// these onto spec.md §6's 3000/3001/3002 codes.
var (
	ErrDisconnected = errors.New("rpc: robot disconnected")
	ErrTimeout      = errors.New("rpc: primitive timed out")
)

// RemoteError wraps an error payload the robot sent back in a
// service_response frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return "rpc: remote error: " + e.Message }

// request is the outbound envelope.
type request struct {
	Op      string         `json:"op"`
	Service string         `json:"service"`
	Args    map[string]any `json:"args"`
	ID      uint64         `json:"id"`
}

// inbound is the superset shape of anything the robot can send us: either a
// service_response reply to one of our requests, or an unsolicited frame
// (ignored — this system has no server-push channel from the robot).
type inbound struct {
	Op     string          `json:"op"`
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

type pendingCall struct {
	resultCh chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

// State is the connection lifecycle state of a Client.
type State int

const (
	Disconnected State = iota
	Connected
)

// Client manages one robot's WebSocket link: dialing, reconnecting with
// backoff and jitter, and correlating requests to replies by id. Exactly one
// goroutine (the reader started by Run) ever reads frames off the socket;
// writers (SendRequest and the ping loop) take the write mutex.
type Client struct {
	name   string
	url    string
	logger *zap.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	state   State
	pending map[uint64]*pendingCall

	nextID  uint64
	writeMu sync.Mutex
}

// New constructs a Client for the robot reachable at url. name is used only
// for logging and Pool registration.
func New(name, url string, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		url:     url,
		logger:  logger,
		pending: make(map[uint64]*pendingCall),
	}
}

// Name returns the robot identifier this client was constructed with.
func (c *Client) Name() string { return c.name }

// IsConnected reports the client's current lifecycle state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Connected
}

// Run dials the robot and keeps reconnecting with backoff+jitter until ctx
// is cancelled. It never returns except when ctx is done.
func (c *Client) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("rpc: connect failed", zap.String("robot", c.name), zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = backoffInitial
		c.readLoop(ctx)

		c.mu.Lock()
		c.state = Disconnected
		c.failAllPending(ErrDisconnected)
		c.mu.Unlock()
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadLimit(4096)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.logger.Info("rpc: connected", zap.String("robot", c.name), zap.String("url", c.url))

	go c.pingLoop(ctx, conn)
	return nil
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop is the sole reader of the socket; it removes each answered call
// from the pending map (SendRequest installs entries and removes timed-out
// ones). It returns when the socket closes for any reason.
func (c *Client) readLoop(ctx context.Context) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("rpc: read loop exiting", zap.String("robot", c.name), zap.Error(err))
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("rpc: malformed frame", zap.String("robot", c.name), zap.Error(err))
		return
	}
	if msg.Op != "service_response" {
		return
	}

	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if msg.Error != nil {
		call.resultCh <- callResult{err: &RemoteError{Message: *msg.Error}}
		return
	}
	call.resultCh <- callResult{result: msg.Result}
}

func (c *Client) failAllPending(err error) {
	for id, call := range c.pending {
		call.resultCh <- callResult{err: err}
		delete(c.pending, id)
	}
}

// SendRequest issues a call_service request and blocks until a matching
// service_response arrives, ctx is cancelled, the default per-primitive
// timeout elapses, or the connection drops. result is the raw JSON result
// payload on success.
func (c *Client) SendRequest(ctx context.Context, service, action string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	conn := c.conn
	id := atomic.AddUint64(&c.nextID, 1)
	call := &pendingCall{resultCh: make(chan callResult, 1)}
	c.pending[id] = call
	c.mu.Unlock()

	body := map[string]any{"action": action}
	for k, v := range args {
		body[k] = v
	}
	req := request{Op: "call_service", Service: service, Args: body, ID: id}
	payload, err := json.Marshal(req)
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	writeErr := conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.removePending(id)
		return nil, ErrDisconnected
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	select {
	case res := <-call.resultCh:
		return res.result, res.err
	case <-timeoutCtx.Done():
		c.removePending(id)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrTimeout
	}
}

func (c *Client) removePending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	delta := float64(d) * jitterFraction
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
