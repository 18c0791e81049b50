package server

import (
	"context"
	"sync"
	"sync/atomic"
)

// workerSlot is one semaphore token shared by a request and every model call
// runCtx detaches for it. The token returns to the pool when the last holder
// lets go, so a call still computing after its deadline keeps counting
// against the worker limit.
type workerSlot struct {
	holders atomic.Int32
	free    func()
}

type workerSlotKey struct{}

func newWorkerSlot(sem chan struct{}) *workerSlot {
	s := &workerSlot{free: sync.OnceFunc(func() { <-sem })}
	s.holders.Store(1)

	return s
}

func (s *workerSlot) hold() { s.holders.Add(1) }

func (s *workerSlot) done() {
	if s.holders.Add(-1) == 0 {
		s.free()
	}
}

func withWorkerSlot(ctx context.Context, s *workerSlot) context.Context {
	return context.WithValue(ctx, workerSlotKey{}, s)
}

// slotFrom returns the slot held by the request behind ctx, or nil when the
// handler runs without a worker limit.
func slotFrom(ctx context.Context) *workerSlot {
	s, _ := ctx.Value(workerSlotKey{}).(*workerSlot)
	return s
}
