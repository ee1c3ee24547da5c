package recon

import (
	"fmt"
	"sort"
	"strings"
)

// Finding is a problem located in a checked file.
type Finding struct {
	Problem
	File  string   `json:"file"`
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Report is the outcome of a batch check.
type Report struct {
	Findings     []Finding `json:"findings"`
	FilesChecked int       `json:"files_checked"`
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{Findings: make([]Finding, 0)}
}

// AddFile records the problems reported for one snapshot. Problems with an
// ignore severity or an unusable span are left out.
func (r *Report) AddFile(file string, doc Snapshot, problems []Problem) {
	r.FilesChecked++
	for _, p := range problems {
		if p.Severity == SeverityIgnore {
			continue
		}
		span, err := doc.SpanOf(p.Offset, p.Length)
		if err != nil {
			continue
		}
		r.Findings = append(r.Findings, Finding{Problem: p, File: file, Start: span.Start, End: span.End})
	}
}

// Sort orders findings by file, then position.
func (r *Report) Sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Offset < b.Offset
	})
}

// IsEmpty returns true if there are no findings
func (r *Report) IsEmpty() bool {
	return len(r.Findings) == 0
}

// HasErrors reports whether any finding has error severity.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// CountBySeverity counts findings per severity level
func (r *Report) CountBySeverity() (errors, warnings, infos, hints int) {
	for _, f := range r.Findings {
		switch f.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		case SeverityInfo:
			infos++
		case SeverityHint:
			hints++
		}
	}
	return
}

// Files returns the files with findings in sorted order.
func (r *Report) Files() []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range r.Findings {
		if !seen[f.File] {
			seen[f.File] = true
			files = append(files, f.File)
		}
	}
	sort.Strings(files)
	return files
}

// String implements the Stringer interface
func (r *Report) String() string {
	return r.PrintByFile()
}

// PrintByFile prints the findings grouped by file
func (r *Report) PrintByFile() string {
	if r.IsEmpty() {
		return "No problems found\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d problems in %d files:\n", len(r.Findings), len(r.Files()))

	byFile := make(map[string][]Finding)
	for _, f := range r.Findings {
		byFile[f.File] = append(byFile[f.File], f)
	}

	for _, file := range r.Files() {
		findings := byFile[file]
		fmt.Fprintf(&sb, "File: %s (%d problems)\n", file, len(findings))
		for _, f := range findings {
			fmt.Fprintf(&sb, "  %d:%d %s [%s] %s\n", f.Start.Line, f.Start.Column, f.Severity, f.Code, f.Message)
		}
	}

	return sb.String()
}

// PrintByCode prints the findings grouped by problem code
func (r *Report) PrintByCode() string {
	if r.IsEmpty() {
		return "No problems found\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d problems categorized by code:\n", len(r.Findings))

	byCode := make(map[string][]Finding)
	var codes []string
	for _, f := range r.Findings {
		if _, ok := byCode[f.Code]; !ok {
			codes = append(codes, f.Code)
		}
		byCode[f.Code] = append(byCode[f.Code], f)
	}
	sort.Strings(codes)

	for _, code := range codes {
		findings := byCode[code]
		fmt.Fprintf(&sb, "Code: %s (%d problems)\n", code, len(findings))
		for _, f := range findings {
			fmt.Fprintf(&sb, "  - %s:%d:%d\n", f.File, f.Start.Line, f.Start.Column)
		}
	}

	return sb.String()
}
