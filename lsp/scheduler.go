package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/gophersatwork/recon"
)

// Listener observes the scheduler. Calls happen on the worker goroutine and
// block it, which lets tests hold a pass at a known point.
type Listener interface {
	ReconcileStarted(uri string, version int)
	ReconcileFinished(uri string, version int, state PassState)
	ReconcileDropped(uri string, version int, state PassState)
}

// NoopListener is a Listener that does nothing
type NoopListener struct{}

func (NoopListener) ReconcileStarted(uri string, version int)                   {}
func (NoopListener) ReconcileFinished(uri string, version int, state PassState) {}
func (NoopListener) ReconcileDropped(uri string, version int, state PassState)  {}

// request is a pending reconciliation of one document version.
type request struct {
	snapshot recon.Snapshot
	analyzer recon.Analyzer
	pass     *Pass
}

// Scheduler runs reconcile passes one at a time on a dedicated worker.
// Each document has a single pending slot: triggering a document that is
// already waiting replaces its request, and the document moves to the back
// of the queue. Since the latest trigger is always last in the queue, the
// pass tracked by Quiescence finishes after every earlier one.
type Scheduler struct {
	store      *DocumentStore
	translator *Translator
	publisher  Publisher
	quiescence *Quiescence
	listener   Listener
	logger     *slog.Logger

	// mu is taken before the store's lock, never after it.
	mu      sync.Mutex
	pending map[string]*request
	order   []string
	wake    chan struct{}
	stopped bool
}

// SchedulerOption is a functional option for Scheduler
type SchedulerOption func(*Scheduler)

// WithSchedulerListener sets the listener
func WithSchedulerListener(l Listener) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.listener = l
		}
	}
}

// WithSchedulerLogger sets the logger
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler creates a scheduler. Run must be called to process passes.
func NewScheduler(store *DocumentStore, translator *Translator, publisher Publisher, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:      store,
		translator: translator,
		publisher:  publisher,
		quiescence: &Quiescence{},
		listener:   NoopListener{},
		logger:     slog.Default(),
		pending:    make(map[string]*request),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Quiescence returns the tracker of the most recently enqueued pass.
func (s *Scheduler) Quiescence() *Quiescence {
	return s.quiescence
}

// WaitUntilIdle blocks until every enqueued pass has finished.
func (s *Scheduler) WaitUntilIdle(ctx context.Context) error {
	return s.quiescence.WaitUntilIdle(ctx)
}

// Trigger enqueues a pass of analyzer over the current snapshot of uri and
// returns without waiting for it. The snapshot is read under the queue lock,
// so a request never replaces a pending one for a newer version.
func (s *Scheduler) Trigger(uri string, analyzer recon.Analyzer) *Pass {
	s.mu.Lock()
	doc, ok := s.store.Get(uri)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("Trigger for unknown document ignored", "uri", uri)
		return finishedPass(uri, 0, PassStale)
	}
	if s.stopped {
		s.mu.Unlock()
		return finishedPass(uri, doc.Version, PassCancelled)
	}

	req := &request{snapshot: doc, analyzer: analyzer, pass: newPass(uri, doc.Version)}
	var superseded *request
	if prev, ok := s.pending[uri]; ok {
		superseded = prev
		s.removeFromOrder(uri)
	}
	s.pending[uri] = req
	s.order = append(s.order, uri)
	s.quiescence.Enqueued(req.pass)
	s.mu.Unlock()

	if superseded != nil {
		s.logger.Debug("Reconcile request superseded",
			"uri", uri,
			"version", superseded.pass.Version,
			"by", doc.Version)
		superseded.pass.finish(PassSuperseded, nil)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return req.pass
}

func (s *Scheduler) removeFromOrder(uri string) {
	for i, u := range s.order {
		if u == uri {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) next() *request {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return nil
	}
	uri := s.order[0]
	s.order = s.order[1:]
	req := s.pending[uri]
	delete(s.pending, uri)
	return req
}

// Run processes passes until ctx is done. Passes still queued at that point
// finish as PassCancelled. Run must not be called twice.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("Reconcile worker started")
	defer s.cancelPending()

	for {
		req := s.next()
		if req == nil {
			select {
			case <-ctx.Done():
				s.logger.Debug("Reconcile worker stopped")
				return nil
			case <-s.wake:
				continue
			}
		}

		if ctx.Err() != nil {
			req.pass.finish(PassCancelled, nil)
			continue
		}
		s.run(ctx, req)
	}
}

func (s *Scheduler) cancelPending() {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = make(map[string]*request)
	s.order = nil
	s.mu.Unlock()

	for _, req := range pending {
		req.pass.finish(PassCancelled, nil)
	}
}

func (s *Scheduler) run(ctx context.Context, req *request) {
	uri, version := req.snapshot.URI, req.snapshot.Version

	if current := s.store.Version(uri); current != version {
		s.logger.Debug("Dropping stale reconcile request",
			"uri", uri,
			"requested", version,
			"current", current)
		s.listener.ReconcileDropped(uri, version, PassStale)
		req.pass.finish(PassStale, nil)
		return
	}

	req.pass.setRunning()
	s.listener.ReconcileStarted(uri, version)

	c := newCollector(req.snapshot, s.store, s.translator, s.publisher, s.logger)
	err := s.invoke(ctx, req, c)

	state := PassCompleted
	switch {
	case err != nil:
		state = PassFailed
		s.logger.Error("Analyzer failed, keeping previous diagnostics",
			"uri", uri,
			"version", version,
			"error", err)
	default:
		if !c.ended {
			c.EndCollecting()
		}
		if c.stale {
			state = PassStale
		}
	}

	s.logger.Debug("Reconcile finished",
		"uri", uri,
		"version", version,
		"state", state.String(),
		"diagnostics", len(c.diagnostics),
		"dropped", c.dropped)

	s.listener.ReconcileFinished(uri, version, state)
	req.pass.finish(state, err)
}

// invoke runs the analyzer, turning panics into errors. Contract violations
// are programming errors and keep panicking.
func (s *Scheduler) invoke(ctx context.Context, req *request, c *collector) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if cv, ok := r.(*recon.ContractViolation); ok {
			panic(cv)
		}
		s.logger.Debug("Analyzer panic", "stack", string(debug.Stack()))
		err = recon.NewAnalysisError("analyzer panicked", fmt.Errorf("%v", r)).WithFile(req.snapshot.URI)
	}()

	if err := req.analyzer.Reconcile(ctx, req.snapshot, c); err != nil {
		return recon.NewAnalysisError("analyzer returned an error", err).WithFile(req.snapshot.URI)
	}
	return nil
}
