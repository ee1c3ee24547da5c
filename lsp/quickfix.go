package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
)

var (
	// ErrUnresolvableFix is returned when no provider is registered for a fix kind
	ErrUnresolvableFix = errors.New("unresolvable fix")
	// ErrStaleFix is returned when the document changed since the fix was offered
	ErrStaleFix = errors.New("document changed since the fix was offered")
	// ErrDuplicateProvider is returned when a fix kind is registered twice
	ErrDuplicateProvider = errors.New("fix provider already registered")
)

// DiagnosticRef identifies the diagnostic a quickfix was created for.
type DiagnosticRef struct {
	URI     string    `json:"uri"`
	Version int       `json:"version"`
	Code    string    `json:"code"`
	Range   lsp.Range `json:"range"`
}

// FixPayload is the second argument of the quickfix command.
type FixPayload struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// QuickfixArgs are the decoded arguments of the quickfix command.
type QuickfixArgs struct {
	Ref     DiagnosticRef
	Payload FixPayload
}

// Quickfix is one client-invocable fix for a published diagnostic.
type Quickfix struct {
	CommandID  string
	Diagnostic lsp.Diagnostic
	Ref        DiagnosticRef
	Fix        recon.FixDescriptor
}

// Command returns the LSP command that applies q.
func (q Quickfix) Command() lsp.Command {
	return lsp.Command{
		Title:   q.Fix.Title,
		Command: q.CommandID,
		Arguments: []interface{}{
			q.Ref,
			FixPayload{Kind: q.Fix.Kind, Data: q.Fix.Payload},
		},
	}
}

// CursorMovement asks the client to place the caret.
type CursorMovement struct {
	URI      string       `json:"uri"`
	Position lsp.Position `json:"position"`
}

// ResolvedEdit is a fix ready to be sent to the client.
type ResolvedEdit struct {
	Label  string            `json:"label,omitempty"`
	Edit   lsp.WorkspaceEdit `json:"edit"`
	Cursor *CursorMovement   `json:"cursor,omitempty"`
}

// FixProvider turns a fix payload into an edit.
type FixProvider interface {
	ResolveFix(ctx context.Context, ref DiagnosticRef, payload json.RawMessage) (ResolvedEdit, error)
}

// FixProviderFunc adapts a function to the FixProvider interface.
type FixProviderFunc func(ctx context.Context, ref DiagnosticRef, payload json.RawMessage) (ResolvedEdit, error)

func (f FixProviderFunc) ResolveFix(ctx context.Context, ref DiagnosticRef, payload json.RawMessage) (ResolvedEdit, error) {
	return f(ctx, ref, payload)
}

// QuickfixRegistry maps fix kinds to providers.
type QuickfixRegistry struct {
	mu        sync.RWMutex
	providers map[string]FixProvider
}

// NewQuickfixRegistry creates an empty registry
func NewQuickfixRegistry() *QuickfixRegistry {
	return &QuickfixRegistry{providers: make(map[string]FixProvider)}
}

// Register binds a provider to a fix kind.
func (r *QuickfixRegistry) Register(kind string, provider FixProvider) error {
	if kind == "" || provider == nil {
		return fmt.Errorf("register fix provider: empty kind or nil provider")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, kind)
	}
	r.providers[kind] = provider
	return nil
}

// Kinds returns the registered fix kinds in sorted order.
func (r *QuickfixRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// HasProviders reports whether any provider is registered.
func (r *QuickfixRegistry) HasProviders() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// Resolve finds the provider for args and resolves the fix.
func (r *QuickfixRegistry) Resolve(ctx context.Context, args QuickfixArgs) (ResolvedEdit, error) {
	r.mu.RLock()
	provider, ok := r.providers[args.Payload.Kind]
	r.mu.RUnlock()

	if !ok {
		return ResolvedEdit{}, recon.NewFixError("no provider for fix",
			fmt.Errorf("%w: kind %q", ErrUnresolvableFix, args.Payload.Kind)).WithFile(args.Ref.URI)
	}

	edit, err := provider.ResolveFix(ctx, args.Ref, args.Payload.Data)
	if err != nil {
		if _, isApp := recon.GetErrorInfo(err); isApp {
			return ResolvedEdit{}, err
		}
		return ResolvedEdit{}, recon.NewFixError("failed to resolve fix", err).WithFile(args.Ref.URI)
	}
	return edit, nil
}

// quickfixIndex keeps the quickfixes of the last completed pass per document.
type quickfixIndex struct {
	mu    sync.RWMutex
	fixes map[string][]Quickfix
}

func newQuickfixIndex() *quickfixIndex {
	return &quickfixIndex{fixes: make(map[string][]Quickfix)}
}

func (i *quickfixIndex) set(uri string, fixes []Quickfix) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(fixes) == 0 {
		delete(i.fixes, uri)
		return
	}
	i.fixes[uri] = fixes
}

func (i *quickfixIndex) clear(uri string) {
	i.set(uri, nil)
}

// lookup returns the quickfixes whose diagnostic overlaps rng.
func (i *quickfixIndex) lookup(uri string, rng lsp.Range) []Quickfix {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []Quickfix
	for _, q := range i.fixes[uri] {
		if rangesOverlap(q.Diagnostic.Range, rng) {
			out = append(out, q)
		}
	}
	return out
}

func (i *quickfixIndex) count(uri string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.fixes[uri])
}
