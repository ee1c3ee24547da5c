package recon

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/afero"
)

// CodeContext represents source lines around a finding
type CodeContext struct {
	Lines       []CodeLine // Source lines with context
	ProblemLine int        // Which line has the problem (1-indexed)
}

// CodeLine represents a single line of source code
type CodeLine struct {
	Number    int    // Line number (1-indexed)
	Content   string // Line content
	IsProblem bool   // True if this is the problem line
}

// ExtractCodeContext returns contextLines lines before and after position.
func ExtractCodeContext(doc Snapshot, position Position, contextLines int) *CodeContext {
	if !position.IsValid() || position.Line > doc.LineCount() {
		return nil
	}

	startLine := max(1, position.Line-contextLines)
	endLine := min(doc.LineCount(), position.Line+contextLines)

	codeLines := make([]CodeLine, 0, endLine-startLine+1)
	for i := startLine; i <= endLine; i++ {
		codeLines = append(codeLines, CodeLine{
			Number:    i,
			Content:   doc.Line(i),
			IsProblem: i == position.Line,
		})
	}

	return &CodeContext{
		Lines:       codeLines,
		ProblemLine: position.Line,
	}
}

// Format formats code context with line numbers and problem markers
func (c *CodeContext) Format(useColor bool) string {
	if c == nil || len(c.Lines) == 0 {
		return ""
	}

	var result strings.Builder
	maxLineNum := c.Lines[len(c.Lines)-1].Number
	width := len(fmt.Sprintf("%d", maxLineNum))

	marked := color.New(color.FgRed)
	if useColor {
		marked.EnableColor()
	} else {
		marked.DisableColor()
	}

	for _, line := range c.Lines {
		text := fmt.Sprintf(" %*d | %s", width, line.Number, line.Content)
		if line.IsProblem {
			text = marked.Sprint(">" + text[1:])
		}
		result.WriteString(text)
		result.WriteString("\n")
	}

	return result.String()
}

// CodeContextCache keeps snapshots of files read for context extraction
type CodeContextCache struct {
	fs    afero.Fs
	mu    sync.Mutex
	cache map[string]Snapshot
}

// NewCodeContextCache creates a new code context cache
func NewCodeContextCache(fs afero.Fs) *CodeContextCache {
	return &CodeContextCache{
		fs:    fs,
		cache: make(map[string]Snapshot),
	}
}

// GetContext extracts code context using cached file contents
func (cc *CodeContextCache) GetContext(filePath string, position Position, contextLines int) (*CodeContext, error) {
	if !position.IsValid() {
		return nil, nil
	}

	cc.mu.Lock()
	doc, exists := cc.cache[filePath]
	cc.mu.Unlock()

	if !exists {
		content, err := afero.ReadFile(cc.fs, filePath)
		if err != nil {
			return nil, NewFSError("failed to read file", err).WithFile(filePath)
		}
		doc = NewSnapshot(PathToURI(filePath), "", 0, string(content))

		cc.mu.Lock()
		cc.cache[filePath] = doc
		cc.mu.Unlock()
	}

	return ExtractCodeContext(doc, position, contextLines), nil
}
