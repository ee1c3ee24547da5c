package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
	"github.com/spf13/afero"
)

// TextEditProvider resolves recon.textEdit fixes against the document store.
type TextEditProvider struct {
	store *DocumentStore
}

// NewTextEditProvider creates a provider reading documents from store
func NewTextEditProvider(store *DocumentStore) *TextEditProvider {
	return &TextEditProvider{store: store}
}

// ResolveFix maps the byte offsets of the payload onto the document the fix
// was offered for. The document must still be at the referenced version.
func (p *TextEditProvider) ResolveFix(ctx context.Context, ref DiagnosticRef, payload json.RawMessage) (ResolvedEdit, error) {
	if err := ctx.Err(); err != nil {
		return ResolvedEdit{}, err
	}

	var fix recon.TextEditFix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return ResolvedEdit{}, recon.NewFixError("invalid text edit payload", err).WithFile(ref.URI)
	}

	doc, ok := p.store.Get(ref.URI)
	if !ok || doc.Version != ref.Version {
		return ResolvedEdit{}, recon.NewFixError("cannot apply fix",
			fmt.Errorf("%w: %s version %d, now %d", ErrStaleFix, ref.URI, ref.Version, doc.Version)).WithFile(ref.URI)
	}

	edits := make([]recon.OffsetEdit, len(fix.Edits))
	copy(edits, fix.Edits)
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Offset < edits[j].Offset })

	textEdits := make([]lsp.TextEdit, 0, len(edits))
	for i, e := range edits {
		if i > 0 && edits[i-1].Offset+edits[i-1].Length > e.Offset {
			return ResolvedEdit{}, recon.NewFixError("overlapping edits in fix", nil).WithFile(ref.URI)
		}
		span, err := doc.SpanOf(e.Offset, e.Length)
		if err != nil {
			return ResolvedEdit{}, recon.NewFixError("edit outside document", err).WithFile(ref.URI)
		}
		textEdits = append(textEdits, lsp.TextEdit{Range: spanToRange(span), NewText: e.NewText})
	}

	resolved := ResolvedEdit{
		Label: ref.Code,
		Edit:  lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{ref.URI: textEdits}},
	}

	if fix.Cursor != nil {
		edited := recon.NewSnapshot(doc.URI, doc.LanguageKind, doc.Version+1, applyOffsetEdits(doc.Content, edits))
		pos, err := edited.PositionAt(*fix.Cursor)
		if err != nil {
			return ResolvedEdit{}, recon.NewFixError("cursor outside edited document", err).WithFile(ref.URI)
		}
		resolved.Cursor = &CursorMovement{URI: ref.URI, Position: positionToLSP(pos)}
	}

	return resolved, nil
}

// applyOffsetEdits applies sorted, non-overlapping edits to content.
func applyOffsetEdits(content string, edits []recon.OffsetEdit) string {
	var b strings.Builder
	last := 0
	for _, e := range edits {
		b.WriteString(content[last:e.Offset])
		b.WriteString(e.NewText)
		last = e.Offset + e.Length
	}
	b.WriteString(content[last:])
	return b.String()
}

// SuppressRuleProvider resolves recon.suppressRule fixes by excluding the
// file from the rule in the config file.
type SuppressRuleProvider struct {
	fs         afero.Fs
	configPath func() string
}

// NewSuppressRuleProvider creates a provider. configPath returns the config
// file in use, or "" to search upwards from the document.
func NewSuppressRuleProvider(fs afero.Fs, configPath func() string) *SuppressRuleProvider {
	return &SuppressRuleProvider{fs: fs, configPath: configPath}
}

func (p *SuppressRuleProvider) ResolveFix(ctx context.Context, ref DiagnosticRef, payload json.RawMessage) (ResolvedEdit, error) {
	if err := ctx.Err(); err != nil {
		return ResolvedEdit{}, err
	}

	var fix recon.SuppressRuleFix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return ResolvedEdit{}, recon.NewFixError("invalid suppress payload", err).WithFile(ref.URI)
	}
	if fix.Rule == "" || fix.Path == "" {
		return ResolvedEdit{}, recon.NewFixError("invalid suppress payload", fmt.Errorf("missing rule or path")).WithFile(ref.URI)
	}

	configPath := ""
	if p.configPath != nil {
		configPath = p.configPath()
	}
	if configPath == "" {
		found, err := FindConfigFile(p.fs, ref.URI)
		if err != nil {
			return ResolvedEdit{}, err
		}
		configPath = found
	}

	edits, err := NewConfigEditor(p.fs, configPath).AddExclude(fix.Rule, fix.Path)
	if err != nil {
		return ResolvedEdit{}, err
	}
	if edits == nil {
		edits = []lsp.TextEdit{}
	}

	return ResolvedEdit{
		Label: fmt.Sprintf("Suppress %s", fix.Rule),
		Edit: lsp.WorkspaceEdit{
			Changes: map[string][]lsp.TextEdit{recon.PathToURI(configPath): edits},
		},
	}, nil
}
