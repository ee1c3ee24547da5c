package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Severity represents the importance level of a problem
type Severity string

const (
	SeverityError   Severity = "error"   // Shown as error in the editor
	SeverityWarning Severity = "warning" // Shown as warning
	SeverityInfo    Severity = "info"    // Informational only
	SeverityHint    Severity = "hint"    // Suggestion for improvement
	SeverityIgnore  Severity = "ignore"  // Reported by the analyzer but never published
)

// String implements the Stringer interface for Severity
func (s Severity) String() string {
	return string(s)
}

// Known reports whether s is one of the declared severities.
func (s Severity) Known() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo, SeverityHint, SeverityIgnore:
		return true
	}
	return false
}

// ParseSeverity converts a string to a Severity level
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn":
		return SeverityWarning
	case "info", "information":
		return SeverityInfo
	case "hint", "suggestion":
		return SeverityHint
	case "ignore", "off", "none":
		return SeverityIgnore
	case "error":
		return SeverityError
	default:
		return SeverityError // Default to error
	}
}

// FixDescriptor describes one way of fixing a problem. Kind selects the fix
// provider that interprets Payload; the payload is opaque to everything else.
type FixDescriptor struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Problem is a finding reported by an analyzer. Offset and Length are byte
// offsets into the analyzed snapshot's content.
type Problem struct {
	Code     string          `json:"code"`
	Message  string          `json:"message"`
	Offset   int             `json:"offset"`
	Length   int             `json:"length"`
	Severity Severity        `json:"severity"`
	Fixes    []FixDescriptor `json:"fixes,omitempty"`
	Cached   bool            `json:"cached,omitempty"` // Set when the problem was read back from the cache
}

// ProblemCollector receives the problems of a single reconcile pass.
type ProblemCollector interface {
	// BeginCollecting starts a fresh accumulation.
	BeginCollecting()
	// Accept adds a problem to the current accumulation.
	Accept(p Problem)
	// Checkpoint publishes what has been accumulated so far.
	Checkpoint()
	// EndCollecting publishes the final set and ends the pass.
	EndCollecting()
}

// Analyzer inspects a snapshot and reports problems to the collector.
// Implementations must not retain the collector after returning.
type Analyzer interface {
	Reconcile(ctx context.Context, doc Snapshot, problems ProblemCollector) error
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, doc Snapshot, problems ProblemCollector) error

func (f AnalyzerFunc) Reconcile(ctx context.Context, doc Snapshot, problems ProblemCollector) error {
	return f(ctx, doc, problems)
}

// ByLanguage routes a snapshot to the analyzer registered for its language kind.
type ByLanguage struct {
	analyzers map[string]Analyzer
	fallback  Analyzer
}

// NewByLanguage creates a router. fallback may be nil, in which case
// documents of unknown languages produce an empty pass.
func NewByLanguage(fallback Analyzer) *ByLanguage {
	return &ByLanguage{
		analyzers: make(map[string]Analyzer),
		fallback:  fallback,
	}
}

// Handle registers an analyzer for a language kind.
func (b *ByLanguage) Handle(languageKind string, a Analyzer) *ByLanguage {
	b.analyzers[languageKind] = a
	return b
}

// Languages returns the registered language kinds in sorted order.
func (b *ByLanguage) Languages() []string {
	kinds := make([]string, 0, len(b.analyzers))
	for k := range b.analyzers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (b *ByLanguage) Reconcile(ctx context.Context, doc Snapshot, problems ProblemCollector) error {
	if a, ok := b.analyzers[doc.LanguageKind]; ok {
		return a.Reconcile(ctx, doc, problems)
	}
	if b.fallback != nil {
		return b.fallback.Reconcile(ctx, doc, problems)
	}
	problems.BeginCollecting()
	problems.EndCollecting()
	return nil
}

// Fix kinds understood by the bundled fix providers.
const (
	FixKindTextEdit     = "recon.textEdit"
	FixKindSuppressRule = "recon.suppressRule"
)

// OffsetEdit replaces Length bytes at Offset with NewText.
type OffsetEdit struct {
	Offset  int    `json:"offset"`
	Length  int    `json:"length"`
	NewText string `json:"newText"`
}

// TextEditFix is the payload of a FixKindTextEdit fix. Offsets refer to the
// snapshot the problem was reported against. Cursor, when set, is the byte
// offset in the edited text where the caret should land.
type TextEditFix struct {
	Edits  []OffsetEdit `json:"edits"`
	Cursor *int         `json:"cursor,omitempty"`
}

// SuppressRuleFix is the payload of a FixKindSuppressRule fix.
type SuppressRuleFix struct {
	Rule string `json:"rule"`
	Path string `json:"path"`
}

// NewTextEditFix builds a FixDescriptor carrying a TextEditFix payload.
func NewTextEditFix(title string, fix TextEditFix) FixDescriptor {
	return newFix(FixKindTextEdit, title, fix)
}

// NewSuppressRuleFix builds a FixDescriptor that excludes path from rule.
func NewSuppressRuleFix(rule, path string) FixDescriptor {
	return newFix(FixKindSuppressRule,
		fmt.Sprintf("Suppress %q for this file", rule),
		SuppressRuleFix{Rule: rule, Path: path})
}

func newFix(kind, title string, payload any) FixDescriptor {
	data, err := json.Marshal(payload)
	if err != nil {
		Violatef("fix payload for %s is not serializable: %v", kind, err)
	}
	return FixDescriptor{Kind: kind, Title: title, Payload: data}
}
