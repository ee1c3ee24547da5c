package lsp

import (
	"fmt"

	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
)

// Translation is the published form of one problem.
type Translation struct {
	Diagnostic lsp.Diagnostic
	Quickfixes []Quickfix
	// Suppressed is set for problems with an ignore severity. Such problems
	// produce neither a diagnostic nor quickfixes.
	Suppressed bool
}

// Translator converts problems into diagnostics and quickfixes.
type Translator struct {
	source    string
	commandID string
}

// NewTranslator creates a translator. source is the diagnostic source shown
// by clients; commandID is the command every quickfix is dispatched through.
func NewTranslator(source, commandID string) *Translator {
	return &Translator{source: source, commandID: commandID}
}

// CommandID returns the generic quickfix command.
func (t *Translator) CommandID() string {
	return t.commandID
}

// Translate converts p, reported against doc. An unknown severity panics
// with a *recon.ContractViolation. A problem whose offsets do not map into
// doc returns an error.
func (t *Translator) Translate(doc recon.Snapshot, p recon.Problem) (Translation, error) {
	severity, publish := severityToLSP(p.Severity)
	if !publish {
		return Translation{Suppressed: true}, nil
	}

	span, err := doc.SpanOf(p.Offset, p.Length)
	if err != nil {
		return Translation{}, fmt.Errorf("problem %q: %w", p.Code, err)
	}

	diagnostic := lsp.Diagnostic{
		Range:    spanToRange(span),
		Severity: severity,
		Code:     p.Code,
		Source:   t.source,
		Message:  p.Message,
	}

	var fixes []Quickfix
	if len(p.Fixes) > 0 {
		ref := DiagnosticRef{
			URI:     doc.URI,
			Version: doc.Version,
			Code:    p.Code,
			Range:   diagnostic.Range,
		}
		fixes = make([]Quickfix, 0, len(p.Fixes))
		for _, fix := range p.Fixes {
			fixes = append(fixes, Quickfix{
				CommandID:  t.commandID,
				Diagnostic: diagnostic,
				Ref:        ref,
				Fix:        fix,
			})
		}
	}

	return Translation{Diagnostic: diagnostic, Quickfixes: fixes}, nil
}

// severityToLSP converts a severity class to an LSP severity. The second
// result is false for problems that must not be published.
func severityToLSP(severity recon.Severity) (lsp.DiagnosticSeverity, bool) {
	switch severity {
	case recon.SeverityError:
		return lsp.Error, true
	case recon.SeverityWarning:
		return lsp.Warning, true
	case recon.SeverityInfo:
		return lsp.Information, true
	case recon.SeverityHint:
		return lsp.Hint, true
	case recon.SeverityIgnore:
		return 0, false
	default:
		recon.Violatef("unknown severity class %q", string(severity))
		return 0, false
	}
}

// spanToRange converts a 1-indexed span to a 0-indexed LSP range
func spanToRange(span recon.Span) lsp.Range {
	return lsp.Range{
		Start: positionToLSP(span.Start),
		End:   positionToLSP(span.End),
	}
}

func positionToLSP(p recon.Position) lsp.Position {
	return lsp.Position{Line: p.Line - 1, Character: p.Column - 1}
}

// rangesOverlap reports whether two ranges share at least one position.
// Empty ranges touching the other range count as overlapping.
func rangesOverlap(a, b lsp.Range) bool {
	return !positionBefore(a.End, b.Start) && !positionBefore(b.End, a.Start)
}

func positionBefore(a, b lsp.Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}
