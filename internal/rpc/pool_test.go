package rpc

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestPoolAddAndGet(t *testing.T) {
	p := NewPool(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Add(ctx, "robot1", "ws://127.0.0.1:1/unreachable")

	c, ok := p.Get("robot1")
	if !ok || c.Name() != "robot1" {
		t.Fatalf("want registered client named robot1, got %v ok=%v", c, ok)
	}

	if names := p.Names(); len(names) != 1 || names[0] != "robot1" {
		t.Fatalf("want [robot1], got %v", names)
	}
}

func TestPoolGetMissing(t *testing.T) {
	p := NewPool(zap.NewNop())
	if _, ok := p.Get("nope"); ok {
		t.Fatalf("want not found")
	}
}
