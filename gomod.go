package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/mod/modfile"
)

// Problem codes reported by ModAnalyzer.
const (
	CodeModSyntax       = "gomod-syntax"
	CodeModNoModule     = "gomod-missing-module"
	CodeModNoGo         = "gomod-missing-go"
	CodeModDuplicateReq = "gomod-duplicate-require"
)

// ModAnalyzer checks go.mod documents.
type ModAnalyzer struct {
	// GoVersion is inserted by the missing go directive fix.
	GoVersion string
	logger    *slog.Logger
}

// NewModAnalyzer creates a ModAnalyzer offering goVersion in its fixes.
func NewModAnalyzer(goVersion string, logger *slog.Logger) *ModAnalyzer {
	if goVersion == "" {
		goVersion = "1.24"
	}
	return &ModAnalyzer{GoVersion: goVersion, logger: ensureLogger(logger)}
}

// Reconcile implements Analyzer.
func (a *ModAnalyzer) Reconcile(ctx context.Context, doc Snapshot, problems ProblemCollector) error {
	problems.BeginCollecting()

	f, err := modfile.Parse(doc.Path(), []byte(doc.Content), nil)
	if err != nil {
		for _, p := range syntaxProblems(doc, err) {
			problems.Accept(p)
		}
		a.logger.Debug("go.mod did not parse", "uri", doc.URI, "error", err)
		problems.EndCollecting()
		return nil
	}

	if f.Module == nil {
		problems.Accept(Problem{
			Code:     CodeModNoModule,
			Message:  "missing module directive",
			Offset:   0,
			Length:   lineLength(doc.Content, 0),
			Severity: SeverityError,
		})
	} else if f.Go == nil {
		problems.Accept(a.missingGo(doc, f))
	}
	problems.Checkpoint()

	if err := ctx.Err(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(f.Require))
	for _, r := range f.Require {
		if r.Syntax == nil {
			continue
		}
		if !seen[r.Mod.Path] {
			seen[r.Mod.Path] = true
			continue
		}
		problems.Accept(duplicateRequire(doc, r))
	}
	problems.EndCollecting()

	return nil
}

func (a *ModAnalyzer) missingGo(doc Snapshot, f *modfile.File) Problem {
	at := f.Module.Syntax.End.Byte
	insert := fmt.Sprintf("\n\ngo %s", a.GoVersion)
	cursor := at + len(insert)

	start := f.Module.Syntax.Start.Byte
	return Problem{
		Code:     CodeModNoGo,
		Message:  "go directive is missing",
		Offset:   start,
		Length:   at - start,
		Severity: SeverityInfo,
		Fixes: []FixDescriptor{NewTextEditFix(
			fmt.Sprintf("Add go %s directive", a.GoVersion),
			TextEditFix{
				Edits:  []OffsetEdit{{Offset: at, NewText: insert}},
				Cursor: &cursor,
			},
		)},
	}
}

func duplicateRequire(doc Snapshot, r *modfile.Require) Problem {
	start, end := r.Syntax.Start.Byte, r.Syntax.End.Byte

	// Remove the whole line including its terminator.
	lineStart := strings.LastIndexByte(doc.Content[:start], '\n') + 1
	var lineEnd int
	if i := strings.IndexByte(doc.Content[end:], '\n'); i >= 0 {
		lineEnd = end + i + 1
	} else {
		lineEnd = len(doc.Content)
	}

	return Problem{
		Code:     CodeModDuplicateReq,
		Message:  fmt.Sprintf("%s is already required", r.Mod.Path),
		Offset:   start,
		Length:   end - start,
		Severity: SeverityWarning,
		Fixes: []FixDescriptor{NewTextEditFix(
			fmt.Sprintf("Remove duplicate require of %s", r.Mod.Path),
			TextEditFix{Edits: []OffsetEdit{{Offset: lineStart, Length: lineEnd - lineStart}}},
		)},
	}
}

func syntaxProblems(doc Snapshot, err error) []Problem {
	var list modfile.ErrorList
	if errors.As(err, &list) {
		out := make([]Problem, 0, len(list))
		for _, e := range list {
			out = append(out, syntaxProblem(doc, e.Pos.Byte, e.Err))
		}
		return out
	}

	var single *modfile.Error
	if errors.As(err, &single) {
		return []Problem{syntaxProblem(doc, single.Pos.Byte, single.Err)}
	}

	return []Problem{syntaxProblem(doc, 0, err)}
}

func syntaxProblem(doc Snapshot, offset int, err error) Problem {
	if offset < 0 || offset > len(doc.Content) {
		offset = 0
	}
	msg := "invalid go.mod"
	if err != nil {
		msg = err.Error()
	}
	return Problem{
		Code:     CodeModSyntax,
		Message:  msg,
		Offset:   offset,
		Length:   lineLength(doc.Content, offset),
		Severity: SeverityError,
	}
}

// lineLength returns the number of bytes from offset to the end of its line.
func lineLength(content string, offset int) int {
	rest := content[offset:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	return len(strings.TrimSuffix(rest, "\r"))
}
