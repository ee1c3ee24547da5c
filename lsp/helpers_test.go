package lsp

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fooAnalyzer flags every "foo" and offers to replace it with "bar".
func fooAnalyzer() recon.Analyzer {
	return recon.AnalyzerFunc(func(ctx context.Context, doc recon.Snapshot, problems recon.ProblemCollector) error {
		problems.BeginCollecting()
		for i := 0; i < len(doc.Content); {
			j := strings.Index(doc.Content[i:], "foo")
			if j < 0 {
				break
			}
			off := i + j
			cursor := off + 3
			problems.Accept(recon.Problem{
				Code:     "X1",
				Message:  "foo found",
				Offset:   off,
				Length:   3,
				Severity: recon.SeverityWarning,
				Fixes: []recon.FixDescriptor{recon.NewTextEditFix("Replace with bar", recon.TextEditFix{
					Edits:  []recon.OffsetEdit{{Offset: off, Length: 3, NewText: "bar"}},
					Cursor: &cursor,
				})},
			})
			i = off + 3
		}
		problems.EndCollecting()
		return nil
	})
}

type publication struct {
	uri         string
	version     int
	diagnostics []lsp.Diagnostic
	quickfixes  []Quickfix
	final       bool
}

type recordingPublisher struct {
	mu   sync.Mutex
	pubs []publication
}

func (p *recordingPublisher) Publish(doc recon.Snapshot, diagnostics []lsp.Diagnostic, quickfixes []Quickfix, final bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubs = append(p.pubs, publication{
		uri:         doc.URI,
		version:     doc.Version,
		diagnostics: diagnostics,
		quickfixes:  quickfixes,
		final:       final,
	})
}

func (p *recordingPublisher) all() []publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publication(nil), p.pubs...)
}

func (p *recordingPublisher) forURI(uri string) []publication {
	var out []publication
	for _, pub := range p.all() {
		if pub.uri == uri {
			out = append(out, pub)
		}
	}
	return out
}

func (p *recordingPublisher) last(uri string) (publication, bool) {
	pubs := p.forURI(uri)
	if len(pubs) == 0 {
		return publication{}, false
	}
	return pubs[len(pubs)-1], true
}

// gateListener holds the worker inside ReconcileStarted of gateURI until
// release is closed.
type gateListener struct {
	gateURI string
	started chan struct{}
	release chan struct{}

	mu       sync.Mutex
	dropped  []int
	finished map[string][]PassState
}

func newGateListener(gateURI string) *gateListener {
	return &gateListener{
		gateURI:  gateURI,
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		finished: make(map[string][]PassState),
	}
}

func (l *gateListener) ReconcileStarted(uri string, version int) {
	if uri != l.gateURI {
		return
	}
	l.started <- struct{}{}
	<-l.release
}

func (l *gateListener) ReconcileFinished(uri string, version int, state PassState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished[uri] = append(l.finished[uri], state)
}

func (l *gateListener) ReconcileDropped(uri string, version int, state PassState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropped = append(l.dropped, version)
}

func (l *gateListener) droppedVersions() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.dropped...)
}

func (l *gateListener) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-l.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never reached the gate")
	}
}

// startScheduler runs a scheduler until the test ends.
func startScheduler(t *testing.T, listener Listener) (*DocumentStore, *Scheduler, *recordingPublisher) {
	t.Helper()

	store := NewDocumentStore()
	pub := &recordingPublisher{}
	sched := NewScheduler(store, NewTranslator("test", "test.applyFix"), pub,
		WithSchedulerListener(listener),
		WithSchedulerLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return store, sched, pub
}

func waitIdle(t *testing.T, w interface {
	WaitUntilIdle(context.Context) error
}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitUntilIdle(ctx))
}

// applyTextEdits applies LSP edits computed against content.
func applyTextEdits(t *testing.T, content string, edits []lsp.TextEdit) string {
	t.Helper()

	doc := recon.NewSnapshot("", "", 0, content)
	type span struct {
		start, end int
		text       string
	}
	spans := make([]span, 0, len(edits))
	for _, e := range edits {
		start, err := doc.OffsetAt(e.Range.Start.Line+1, e.Range.Start.Character+1)
		require.NoError(t, err)
		end, err := doc.OffsetAt(e.Range.End.Line+1, e.Range.End.Character+1)
		require.NoError(t, err)
		spans = append(spans, span{start, end, e.NewText})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	for _, s := range spans {
		content = content[:s.start] + s.text + content[s.end:]
	}
	return content
}

// mockClient is a Client backed by testify/mock
type mockClient struct {
	mock.Mock
}

func (m *mockClient) PublishDiagnostics(ctx context.Context, params lsp.PublishDiagnosticsParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockClient) ApplyEdit(ctx context.Context, params ApplyWorkspaceEditParams) (ApplyWorkspaceEditResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(ApplyWorkspaceEditResult), args.Error(1)
}

func (m *mockClient) MoveCursor(ctx context.Context, params MoveCursorParams) (MoveCursorResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(MoveCursorResult), args.Error(1)
}

func (m *mockClient) ShowMessage(ctx context.Context, params lsp.ShowMessageParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockClient) LogMessage(ctx context.Context, params lsp.LogMessageParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}

func (m *mockClient) RegisterCapability(ctx context.Context, params RegistrationParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
