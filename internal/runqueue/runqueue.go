// Package runqueue serializes pipeline runs per key with a single waiting slot.
//
// At most one run per key is in flight. A submission made while the key is
// busy waits as the next run; a newer submission replaces a waiting one, whose
// caller receives ErrSuperseded. In-flight runs are never interrupted.
package runqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned to a waiting submission replaced by a newer one.
var ErrSuperseded = errors.New("runqueue: superseded by a newer submission")

type result[T any] struct {
	val T
	err error
}

type request[T any] struct {
	ctx  context.Context
	fn   func(context.Context) (T, error)
	done chan result[T]
}

type slot[T any] struct {
	pending *request[T]
}

// Group holds one slot per key. The zero value is ready to use.
type Group[T any] struct {
	mu    sync.Mutex
	slots map[string]*slot[T]

	// OnSuperseded, when set, is called for every replaced submission.
	OnSuperseded func(key string)
}

// Submit runs fn for key once the key is free and returns its result. When
// ctx ends before the result is available Submit returns ctx.Err(); the run
// itself still completes and its result is dropped.
func (g *Group[T]) Submit(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	req := &request[T]{ctx: ctx, fn: fn, done: make(chan result[T], 1)}

	g.mu.Lock()
	if g.slots == nil {
		g.slots = make(map[string]*slot[T])
	}
	s, busy := g.slots[key]
	if !busy {
		g.slots[key] = &slot[T]{}
		g.mu.Unlock()
		go g.drain(key, req)
	} else {
		replaced := s.pending
		s.pending = req
		g.mu.Unlock()
		if replaced != nil {
			replaced.done <- result[T]{err: ErrSuperseded}
			if g.OnSuperseded != nil {
				g.OnSuperseded(key)
			}
		}
	}

	select {
	case r := <-req.done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Busy reports whether a run for key is in flight.
func (g *Group[T]) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.slots[key]
	return ok
}

func (g *Group[T]) drain(key string, req *request[T]) {
	for req != nil {
		val, err := req.fn(req.ctx)
		req.done <- result[T]{val: val, err: err}

		g.mu.Lock()
		s := g.slots[key]
		req = s.pending
		s.pending = nil
		if req == nil {
			delete(g.slots, key)
		}
		g.mu.Unlock()
	}
}
