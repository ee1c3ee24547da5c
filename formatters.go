package recon

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatText outputs human-readable text (default)
	FormatText OutputFormat = "text"
	// FormatJSON outputs machine-readable JSON
	FormatJSON OutputFormat = "json"
)

// Formatter interface for different output formats
type Formatter interface {
	Format(report *Report) ([]byte, error)
	ContentType() string
}

// NewFormatter creates formatters based on the output format
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Pretty: true}, nil
	case FormatText, "":
		return NewTextFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// JSONFormatter outputs findings in JSON format
type JSONFormatter struct {
	Pretty bool
	now    func() time.Time
}

// JSONOutput represents the JSON output structure
type JSONOutput struct {
	Summary   Summary       `json:"summary"`
	Findings  []JSONFinding `json:"findings"`
	Codes     []CodeSummary `json:"codes"`
	Timestamp string        `json:"timestamp"`
}

type Summary struct {
	TotalProblems   int    `json:"total_problems"`
	FilesAnalyzed   int    `json:"files_analyzed"`
	FilesWithIssues int    `json:"files_with_issues"`
	Status          string `json:"status"`
}

type JSONFinding struct {
	File      string   `json:"file"`
	Line      int      `json:"line"`
	Column    int      `json:"column"`
	EndLine   int      `json:"end_line"`
	EndColumn int      `json:"end_column"`
	Code      string   `json:"code"`
	Severity  string   `json:"severity"`
	Message   string   `json:"message"`
	Fixes     []string `json:"fixes,omitempty"`
	Cached    bool     `json:"cached,omitempty"`
}

type CodeSummary struct {
	Code     string `json:"code"`
	Problems int    `json:"problems"`
}

func (f *JSONFormatter) Format(report *Report) ([]byte, error) {
	output := f.buildJSONOutput(report)

	if f.Pretty {
		return json.MarshalIndent(output, "", "  ")
	}
	return json.Marshal(output)
}

func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

func (f *JSONFormatter) buildJSONOutput(report *Report) JSONOutput {
	codeCount := make(map[string]int)
	var codes []string

	findings := make([]JSONFinding, 0, len(report.Findings))
	for _, finding := range report.Findings {
		if _, ok := codeCount[finding.Code]; !ok {
			codes = append(codes, finding.Code)
		}
		codeCount[finding.Code]++

		var fixes []string
		for _, fix := range finding.Fixes {
			fixes = append(fixes, fix.Title)
		}

		findings = append(findings, JSONFinding{
			File:      finding.File,
			Line:      finding.Start.Line,
			Column:    finding.Start.Column,
			EndLine:   finding.End.Line,
			EndColumn: finding.End.Column,
			Code:      finding.Code,
			Severity:  finding.Severity.String(),
			Message:   finding.Message,
			Fixes:     fixes,
			Cached:    finding.Cached,
		})
	}

	summaries := make([]CodeSummary, 0, len(codes))
	for _, code := range codes {
		summaries = append(summaries, CodeSummary{Code: code, Problems: codeCount[code]})
	}

	status := "passed"
	if report.HasErrors() {
		status = "failed"
	}

	now := time.Now
	if f.now != nil {
		now = f.now
	}

	return JSONOutput{
		Summary: Summary{
			TotalProblems:   len(report.Findings),
			FilesAnalyzed:   report.FilesChecked,
			FilesWithIssues: len(report.Files()),
			Status:          status,
		},
		Findings:  findings,
		Codes:     summaries,
		Timestamp: now().UTC().Format(time.RFC3339),
	}
}
