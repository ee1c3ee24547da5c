package recon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	handlerPath    = "/project/internal/api/handler.go"
	handlerContent = "package api\n\n// TODO: x\nfunc f() { panic(1) }\n"
	mainPath       = "/project/main.go"
	mainContent    = "package main // TODO\n"
)

func problemAt(content, match, code string, severity Severity, fixes ...FixDescriptor) Problem {
	return Problem{
		Code:     code,
		Message:  code + " matched",
		Offset:   strings.Index(content, match),
		Length:   len(match),
		Severity: severity,
		Fixes:    fixes,
	}
}

func createTestReport() *Report {
	report := NewReport()
	report.AddFile(handlerPath, NewSnapshot(PathToURI(handlerPath), "go", 0, handlerContent), []Problem{
		problemAt(handlerContent, "TODO", "no-todo", SeverityWarning, NewSuppressRuleFix("no-todo", "internal/api/handler.go")),
		problemAt(handlerContent, "panic(", "no-panic", SeverityError),
	})
	report.AddFile(mainPath, NewSnapshot(PathToURI(mainPath), "go", 0, mainContent), []Problem{
		problemAt(mainContent, "TODO", "no-todo", SeverityWarning),
		problemAt(mainContent, "main", "quiet", SeverityIgnore),
	})
	report.Sort()
	return report
}

func TestNewFormatter(t *testing.T) {
	testCases := []struct {
		name        string
		format      OutputFormat
		shouldError bool
	}{
		{"JSON formatter", FormatJSON, false},
		{"Text formatter", FormatText, false},
		{"Default formatter", "", false},
		{"Invalid formatter", "sarif", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			formatter, err := NewFormatter(tc.format)
			if tc.shouldError {
				assert.Error(t, err)
				assert.Nil(t, formatter)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, formatter)
			}
		})
	}
}

func TestReport_AddFile(t *testing.T) {
	report := createTestReport()

	assert.Equal(t, 2, report.FilesChecked)
	require.Len(t, report.Findings, 3, "ignored problems are left out")

	first := report.Findings[0]
	assert.Equal(t, handlerPath, first.File)
	assert.Equal(t, "no-todo", first.Code)
	assert.Equal(t, Position{Line: 3, Column: 4, Offset: 16}, first.Start)
	assert.Equal(t, Position{Line: 3, Column: 8, Offset: 20}, first.End)

	second := report.Findings[1]
	assert.Equal(t, "no-panic", second.Code)
	assert.Equal(t, 4, second.Start.Line)
	assert.Equal(t, 12, second.Start.Column)

	assert.Equal(t, mainPath, report.Findings[2].File)
}

func TestReport_DropsUnusableSpans(t *testing.T) {
	report := NewReport()
	report.AddFile("a.txt", NewSnapshot("file:///a.txt", "", 0, "abc"), []Problem{
		{Code: "past-end", Offset: 2, Length: 5, Severity: SeverityError},
		{Code: "negative", Offset: 1, Length: -1, Severity: SeverityError},
		{Code: "ok", Offset: 0, Length: 3, Severity: SeverityHint},
	})

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "ok", report.Findings[0].Code)
	assert.False(t, report.HasErrors())
}

func TestReport_Counts(t *testing.T) {
	report := createTestReport()

	errs, warnings, infos, hints := report.CountBySeverity()
	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, warnings)
	assert.Zero(t, infos)
	assert.Zero(t, hints)
	assert.True(t, report.HasErrors())
	assert.Equal(t, []string{handlerPath, mainPath}, report.Files())
}

func TestReport_Print(t *testing.T) {
	report := createTestReport()

	byFile := report.PrintByFile()
	assert.Contains(t, byFile, "Found 3 problems in 2 files:")
	assert.Contains(t, byFile, "File: "+handlerPath+" (2 problems)")
	assert.Contains(t, byFile, "  3:4 warning [no-todo] no-todo matched")
	assert.Equal(t, byFile, report.String())

	byCode := report.PrintByCode()
	assert.Contains(t, byCode, "Found 3 problems categorized by code:")
	assert.Less(t, strings.Index(byCode, "Code: no-panic (1 problems)"), strings.Index(byCode, "Code: no-todo (2 problems)"))
	assert.Contains(t, byCode, "  - "+mainPath+":1:17")

	assert.Equal(t, "No problems found\n", NewReport().PrintByFile())
	assert.Equal(t, "No problems found\n", NewReport().PrintByCode())
}

func TestJSONFormatter(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	formatter := &JSONFormatter{Pretty: true, now: func() time.Time { return stamp }}

	output, err := formatter.Format(createTestReport())
	require.NoError(t, err)
	assert.Equal(t, "application/json", formatter.ContentType())

	var jsonOutput JSONOutput
	require.NoError(t, json.Unmarshal(output, &jsonOutput))

	assert.Equal(t, Summary{TotalProblems: 3, FilesAnalyzed: 2, FilesWithIssues: 2, Status: "failed"}, jsonOutput.Summary)
	assert.Equal(t, "2026-03-01T12:00:00Z", jsonOutput.Timestamp)
	assert.Equal(t, []CodeSummary{{Code: "no-todo", Problems: 2}, {Code: "no-panic", Problems: 1}}, jsonOutput.Codes)

	require.Len(t, jsonOutput.Findings, 3)
	first := jsonOutput.Findings[0]
	assert.Equal(t, handlerPath, first.File)
	assert.Equal(t, 3, first.Line)
	assert.Equal(t, 4, first.Column)
	assert.Equal(t, 3, first.EndLine)
	assert.Equal(t, 8, first.EndColumn)
	assert.Equal(t, "warning", first.Severity)
	assert.Equal(t, []string{`Suppress "no-todo" for this file`}, first.Fixes)
	assert.Empty(t, jsonOutput.Findings[1].Fixes)
}

func TestJSONFormatterEmpty(t *testing.T) {
	formatter := &JSONFormatter{}

	output, err := formatter.Format(&Report{FilesChecked: 4})
	require.NoError(t, err)
	assert.NotContains(t, string(output), "\n", "compact output")

	var jsonOutput JSONOutput
	require.NoError(t, json.Unmarshal(output, &jsonOutput))

	assert.Equal(t, 0, jsonOutput.Summary.TotalProblems)
	assert.Equal(t, 4, jsonOutput.Summary.FilesAnalyzed)
	assert.Equal(t, "passed", jsonOutput.Summary.Status)
	assert.NotNil(t, jsonOutput.Findings)
}

func TestTextFormatter(t *testing.T) {
	t.Run("plain text when colors are off", func(t *testing.T) {
		formatter := &TextFormatter{ColorMode: ColorNever}
		output, err := formatter.Format(createTestReport())
		require.NoError(t, err)
		assert.Equal(t, "text/plain", formatter.ContentType())
		assert.Equal(t, createTestReport().PrintByFile(), string(output))
	})

	t.Run("grouped by code", func(t *testing.T) {
		formatter := &TextFormatter{ColorMode: ColorNever, GroupByCode: true}
		output, err := formatter.Format(createTestReport())
		require.NoError(t, err)
		assert.Contains(t, string(output), "categorized by code")
	})

	t.Run("auto mode without a terminal", func(t *testing.T) {
		formatter := &TextFormatter{ColorMode: ColorAuto, Writer: &bytes.Buffer{}}
		output, err := formatter.Format(createTestReport())
		require.NoError(t, err)
		assert.NotContains(t, string(output), "\x1b[")
	})

	t.Run("colors", func(t *testing.T) {
		formatter := &TextFormatter{ColorMode: ColorAlways}
		output, err := formatter.Format(createTestReport())
		require.NoError(t, err)

		content := string(output)
		assert.Contains(t, content, "\x1b[")
		assert.Contains(t, content, handlerPath)
		assert.Contains(t, content, "(2 problems)")
		assert.Contains(t, content, `Suppress "no-todo" for this file`)
		assert.Contains(t, content, "Summary: ")
		assert.Contains(t, content, "1 errors")
		assert.Contains(t, content, "2 warnings")
	})

	t.Run("colors with code context", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, handlerPath, []byte(handlerContent), 0o644))
		require.NoError(t, afero.WriteFile(fs, mainPath, []byte(mainContent), 0o644))

		formatter := &TextFormatter{ColorMode: ColorAlways, Source: fs, ContextLines: 1}
		output, err := formatter.Format(createTestReport())
		require.NoError(t, err)
		assert.Contains(t, string(output), "3 | // TODO: x")
		assert.Contains(t, string(output), "2 | ")
	})

	t.Run("empty report", func(t *testing.T) {
		formatter := &TextFormatter{ColorMode: ColorAlways}
		output, err := formatter.Format(&Report{FilesChecked: 3})
		require.NoError(t, err)
		assert.Contains(t, string(output), "No problems found in 3 files")
	})
}

func BenchmarkFormatters(b *testing.B) {
	content := strings.Repeat("x TODO y\n", 100)
	problems := make([]Problem, 100)
	for i := range problems {
		problems[i] = Problem{
			Code:     fmt.Sprintf("rule%d", i%10),
			Message:  "Test problem",
			Offset:   i*9 + 2,
			Length:   4,
			Severity: SeverityWarning,
		}
	}
	report := NewReport()
	report.AddFile("bench.txt", NewSnapshot("file:///bench.txt", "", 0, content), problems)

	formatters := []struct {
		name      string
		formatter Formatter
	}{
		{"JSON", &JSONFormatter{}},
		{"Text", &TextFormatter{ColorMode: ColorNever}},
		{"TextColor", &TextFormatter{ColorMode: ColorAlways}},
	}

	for _, f := range formatters {
		b.Run(f.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := f.formatter.Format(report); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
