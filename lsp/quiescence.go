package lsp

import (
	"context"
	"sync"
	"sync/atomic"
)

// PassState is the lifecycle state of a reconcile pass.
type PassState int32

const (
	PassQueued PassState = iota
	PassRunning
	PassCompleted
	PassFailed
	// PassStale means the document moved on before or during the pass.
	PassStale
	// PassSuperseded means a newer request replaced this one before it ran.
	PassSuperseded
	// PassCancelled means the scheduler stopped before running the pass.
	PassCancelled
)

func (s PassState) String() string {
	switch s {
	case PassQueued:
		return "queued"
	case PassRunning:
		return "running"
	case PassCompleted:
		return "completed"
	case PassFailed:
		return "failed"
	case PassStale:
		return "stale"
	case PassSuperseded:
		return "superseded"
	case PassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s PassState) Terminal() bool {
	return s >= PassCompleted
}

// Pass is the handle of one enqueued reconciliation.
type Pass struct {
	URI     string
	Version int

	state atomic.Int32
	done  chan struct{}
	once  sync.Once
	err   error
}

func newPass(uri string, version int) *Pass {
	return &Pass{URI: uri, Version: version, done: make(chan struct{})}
}

// finishedPass returns a pass that is already in a terminal state.
func finishedPass(uri string, version int, state PassState) *Pass {
	p := newPass(uri, version)
	p.finish(state, nil)
	return p
}

// State returns the current state.
func (p *Pass) State() PassState {
	return PassState(p.state.Load())
}

// Done is closed once the pass reaches a terminal state.
func (p *Pass) Done() <-chan struct{} {
	return p.done
}

// Err returns the analyzer failure of a PassFailed pass.
func (p *Pass) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the pass is done or ctx ends.
func (p *Pass) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pass) setRunning() {
	p.state.CompareAndSwap(int32(PassQueued), int32(PassRunning))
}

func (p *Pass) finish(state PassState, err error) {
	p.once.Do(func() {
		p.err = err
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Quiescence tracks the most recently enqueued pass across all documents.
type Quiescence struct {
	mu     sync.Mutex
	latest *Pass
}

// Enqueued makes p the pass that WaitUntilIdle waits for.
func (q *Quiescence) Enqueued(p *Pass) {
	q.mu.Lock()
	q.latest = p
	q.mu.Unlock()
}

// Latest returns the most recently enqueued pass, nil before the first one.
func (q *Quiescence) Latest() *Pass {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.latest
}

// Idle reports whether the latest pass has finished.
func (q *Quiescence) Idle() bool {
	p := q.Latest()
	return p == nil || p.State().Terminal()
}

// WaitUntilIdle blocks until the most recently enqueued pass is done and no
// newer pass was enqueued while waiting.
func (q *Quiescence) WaitUntilIdle(ctx context.Context) error {
	for {
		p := q.Latest()
		if p == nil {
			return nil
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
		if q.Latest() == p {
			return nil
		}
	}
}
