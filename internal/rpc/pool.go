package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Pool is the registry of every robot client the orchestrator manages,
// keyed by robot name. It mirrors the teacher's agent registry shape, just
// turned around: the orchestrator dials out to robots rather than accepting
// inbound robot connections.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewPool creates an empty Pool.
func NewPool(logger *zap.Logger) *Pool {
	return &Pool{clients: make(map[string]*Client), logger: logger}
}

// Add registers a robot client under name and starts its connection loop in
// a new goroutine bound to ctx. Calling Add twice with the same name
// replaces the prior entry; the old client's Run goroutine keeps running
// until its own ctx is cancelled by the caller.
func (p *Pool) Add(ctx context.Context, name, url string) *Client {
	c := New(name, url, p.logger)
	p.mu.Lock()
	p.clients[name] = c
	p.mu.Unlock()
	go c.Run(ctx)
	return c
}

// Get returns the client registered under name, or false if none exists.
func (p *Pool) Get(name string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[name]
	return c, ok
}

// Names returns every registered robot name, sorted for determinism.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.clients))
	for n := range p.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ConnectedCount reports how many registered robots currently have an open
// socket.
func (p *Pool) ConnectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, c := range p.clients {
		if c.IsConnected() {
			n++
		}
	}
	return n
}

// Health returns a name -> connected map snapshot, used by the GET / health
// endpoint.
func (p *Pool) Health() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]bool, len(p.clients))
	for n, c := range p.clients {
		out[n] = c.IsConnected()
	}
	return out
}

// MustGet is a convenience for callers that already know the robot name is
// registered (cmd/orchestrator uses it for the first configured robot); it
// panics if it isn't, since that indicates a programming error upstream,
// not an operator-facing condition.
func (p *Pool) MustGet(name string) *Client {
	c, ok := p.Get(name)
	if !ok {
		panic(fmt.Sprintf("rpc: pool has no client registered for %q", name))
	}
	return c
}
