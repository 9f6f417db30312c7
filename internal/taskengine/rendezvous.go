package taskengine

import (
	"sync/atomic"

	"github.com/labworkcell/orchestrator/internal/inventory"
)

// EnterIDPayload is what an ENTER_ID command delivers to a waiting Scan
// Session. verdict carries the consumer's validation result back to the
// submitter synchronously, per spec.md §8's requirement that a type
// mismatch is visible to the ENTER_ID caller as an error while the task
// stays WAITING.
type EnterIDPayload struct {
	BottleID   string
	ObjectType inventory.ObjectType
	verdict    chan error
}

// rendezvous is a single-slot, single-use blocking handoff: at most one
// Offer ever succeeds, guaranteeing that of two concurrent ENTER_IDs
// racing the same waiting point, exactly one is delivered.
type rendezvous struct {
	ch      chan EnterIDPayload
	claimed int32
}

func newRendezvous() *rendezvous {
	return &rendezvous{ch: make(chan EnterIDPayload, 1)}
}

// offer attempts to hand p to the single waiting receiver. Returns false if
// another caller already claimed this rendezvous.
func (r *rendezvous) offer(p EnterIDPayload) bool {
	if !atomic.CompareAndSwapInt32(&r.claimed, 0, 1) {
		return false
	}
	r.ch <- p
	return true
}
