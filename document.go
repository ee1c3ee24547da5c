package recon

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Position represents a location in a document
type Position struct {
	Line   int `json:"line"`             // 1-indexed line number
	Column int `json:"column"`           // 1-indexed column, counted in UTF-16 code units
	Offset int `json:"offset,omitempty"` // Byte offset in the document
}

// IsValid returns true if the position has valid line/column
func (p *Position) IsValid() bool {
	return p != nil && p.Line > 0 && p.Column > 0
}

// Span is a half-open region of a document.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Snapshot is an immutable copy of a document at one version.
type Snapshot struct {
	URI          string
	LanguageKind string
	Version      int
	Content      string

	lines []int // byte offset of each line start
}

// NewSnapshot creates a snapshot and indexes its lines.
func NewSnapshot(uri, languageKind string, version int, content string) Snapshot {
	return Snapshot{
		URI:          uri,
		LanguageKind: languageKind,
		Version:      version,
		Content:      content,
		lines:        lineStarts(content),
	}
}

func lineStarts(content string) []int {
	starts := make([]int, 1, strings.Count(content, "\n")+1)
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func (s Snapshot) index() []int {
	if s.lines == nil {
		return lineStarts(s.Content)
	}
	return s.lines
}

// Path returns the file system path of the snapshot's URI.
func (s Snapshot) Path() string {
	return URIToPath(s.URI)
}

// LineCount returns the number of lines, counting a trailing empty line.
func (s Snapshot) LineCount() int {
	return len(s.index())
}

// Line returns the text of a 1-indexed line without its line terminator.
func (s Snapshot) Line(n int) string {
	idx := s.index()
	if n < 1 || n > len(idx) {
		return ""
	}
	end := len(s.Content)
	if n < len(idx) {
		end = idx[n] - 1
	}
	return strings.TrimSuffix(s.Content[idx[n-1]:end], "\r")
}

// PositionAt converts a byte offset into a position. The offset must lie
// within the content and on a character boundary.
func (s Snapshot) PositionAt(offset int) (Position, error) {
	if offset < 0 || offset > len(s.Content) {
		return Position{}, fmt.Errorf("offset %d outside document of %d bytes", offset, len(s.Content))
	}
	if offset < len(s.Content) && !utf8.RuneStart(s.Content[offset]) {
		return Position{}, fmt.Errorf("offset %d splits a character", offset)
	}

	idx := s.index()
	// Largest line start <= offset.
	lo, hi := 0, len(idx)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if idx[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	col := 0
	for _, r := range s.Content[idx[lo]:offset] {
		if r >= 0x10000 {
			col += 2
		} else {
			col++
		}
	}

	return Position{Line: lo + 1, Column: col + 1, Offset: offset}, nil
}

// SpanOf converts an offset/length pair into a span.
func (s Snapshot) SpanOf(offset, length int) (Span, error) {
	if length < 0 {
		return Span{}, fmt.Errorf("negative length %d", length)
	}
	start, err := s.PositionAt(offset)
	if err != nil {
		return Span{}, err
	}
	end, err := s.PositionAt(offset + length)
	if err != nil {
		return Span{}, err
	}
	return Span{Start: start, End: end}, nil
}

// OffsetAt converts a 1-indexed line and UTF-16 column into a byte offset.
// Columns past the end of the line clamp to the line end.
func (s Snapshot) OffsetAt(line, column int) (int, error) {
	idx := s.index()
	if line < 1 || line > len(idx) {
		return 0, fmt.Errorf("line %d outside document of %d lines", line, len(idx))
	}
	if column < 1 {
		return 0, fmt.Errorf("invalid column %d", column)
	}

	start := idx[line-1]
	end := len(s.Content)
	if line < len(idx) {
		end = idx[line] - 1
	}

	units := column - 1
	for i, r := range s.Content[start:end] {
		if units <= 0 {
			return start + i, nil
		}
		if r >= 0x10000 {
			units -= 2
		} else {
			units--
		}
	}
	return end, nil
}
