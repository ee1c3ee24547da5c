package lsp

import (
	"github.com/sourcegraph/go-lsp"
)

// CodeActionKind is the kind of a code action literal
type CodeActionKind string

const (
	QuickFix CodeActionKind = "quickfix"
)

// CodeAction is a code action literal. go-lsp only models the older
// Command[] answer.
type CodeAction struct {
	Title       string           `json:"title"`
	Kind        CodeActionKind   `json:"kind,omitempty"`
	Diagnostics []lsp.Diagnostic `json:"diagnostics,omitempty"`
	Command     *lsp.Command     `json:"command,omitempty"`
	IsPreferred bool             `json:"isPreferred,omitempty"`
}

// CodeActionProvider answers textDocument/codeAction from the quickfixes of
// the last completed pass.
type CodeActionProvider struct {
	store *DocumentStore
	index *quickfixIndex
}

// NewCodeActionProvider creates a new code action provider
func NewCodeActionProvider(store *DocumentStore, index *quickfixIndex) *CodeActionProvider {
	return &CodeActionProvider{
		store: store,
		index: index,
	}
}

// Quickfixes returns the fixes whose diagnostic intersects rng. Fixes
// offered for an older version of the document are left out.
func (p *CodeActionProvider) Quickfixes(uri string, rng lsp.Range) []Quickfix {
	current := p.store.Version(uri)

	var out []Quickfix
	for _, q := range p.index.lookup(uri, rng) {
		if q.Ref.Version != current {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Commands returns the quickfixes for params as plain commands
func (p *CodeActionProvider) Commands(params lsp.CodeActionParams) []lsp.Command {
	fixes := p.Quickfixes(string(params.TextDocument.URI), params.Range)

	commands := make([]lsp.Command, 0, len(fixes))
	for _, q := range fixes {
		commands = append(commands, q.Command())
	}
	return commands
}

// Actions returns the quickfixes for params as code action literals. The
// first fix of each diagnostic is marked preferred.
func (p *CodeActionProvider) Actions(params lsp.CodeActionParams) []CodeAction {
	fixes := p.Quickfixes(string(params.TextDocument.URI), params.Range)

	actions := make([]CodeAction, 0, len(fixes))
	seen := make(map[lsp.Range]bool)
	for _, q := range fixes {
		cmd := q.Command()
		actions = append(actions, CodeAction{
			Title:       q.Fix.Title,
			Kind:        QuickFix,
			Diagnostics: []lsp.Diagnostic{q.Diagnostic},
			Command:     &cmd,
			IsPreferred: !seen[q.Diagnostic.Range],
		})
		seen[q.Diagnostic.Range] = true
	}
	return actions
}
