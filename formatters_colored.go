package recon

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/afero"
)

// ColorMode represents when to use colors in output
type ColorMode string

const (
	// ColorAuto automatically detects TTY and enables colors appropriately
	ColorAuto ColorMode = "auto"
	// ColorAlways forces colors to be enabled
	ColorAlways ColorMode = "always"
	// ColorNever disables colors
	ColorNever ColorMode = "never"
)

// TextFormatter outputs findings as text, with ANSI colors when enabled
type TextFormatter struct {
	// ColorMode controls when to enable colors (auto, always, never)
	ColorMode ColorMode
	// GroupByCode when true groups findings by code instead of file
	GroupByCode bool
	// Writer is the output destination used for TTY detection (defaults to os.Stdout)
	Writer io.Writer
	// ContextLines is the number of source lines shown around a finding.
	// Context needs Source to be set.
	ContextLines int
	// Source reads files for code context
	Source afero.Fs
}

// NewTextFormatter creates a new TextFormatter with sensible defaults
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		ColorMode: ColorAuto,
		Writer:    os.Stdout,
	}
}

func (f *TextFormatter) Format(report *Report) ([]byte, error) {
	if !f.shouldEnableColor() {
		if f.GroupByCode {
			return []byte(report.PrintByCode()), nil
		}
		return []byte(report.PrintByFile()), nil
	}
	return []byte(f.formatWithColors(report)), nil
}

func (f *TextFormatter) ContentType() string {
	return "text/plain"
}

// shouldEnableColor determines if colors should be enabled based on the ColorMode
func (f *TextFormatter) shouldEnableColor() bool {
	switch f.ColorMode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	case ColorAuto:
		writer := f.Writer
		if writer == nil {
			writer = os.Stdout
		}

		if file, ok := writer.(*os.File); ok {
			fileInfo, err := file.Stat()
			if err != nil {
				return false
			}
			return (fileInfo.Mode() & os.ModeCharDevice) != 0
		}
		return false
	default:
		return false
	}
}

type palette struct {
	severity map[Severity]*color.Color
	file     *color.Color
	code     *color.Color
	dim      *color.Color
	success  *color.Color
}

func newPalette() palette {
	p := palette{
		severity: map[Severity]*color.Color{
			SeverityError:   color.New(color.FgRed, color.Bold),
			SeverityWarning: color.New(color.FgYellow, color.Bold),
			SeverityInfo:    color.New(color.FgBlue, color.Bold),
			SeverityHint:    color.New(color.FgHiBlack, color.Bold),
		},
		file:    color.New(color.FgCyan, color.Bold),
		code:    color.New(color.FgMagenta),
		dim:     color.New(color.FgHiBlack),
		success: color.New(color.FgGreen, color.Bold),
	}
	// shouldEnableColor already decided; bypass color.NoColor.
	for _, c := range p.severity {
		c.EnableColor()
	}
	for _, c := range []*color.Color{p.file, p.code, p.dim, p.success} {
		c.EnableColor()
	}
	return p
}

func (f *TextFormatter) formatWithColors(report *Report) string {
	var sb strings.Builder
	p := newPalette()

	if report.IsEmpty() {
		sb.WriteString(p.success.Sprintf("No problems found in %d files", report.FilesChecked))
		sb.WriteString("\n")
		return sb.String()
	}

	var contexts *CodeContextCache
	if f.Source != nil && f.ContextLines > 0 {
		contexts = NewCodeContextCache(f.Source)
	}

	groups, order := f.group(report)
	for _, key := range order {
		findings := groups[key]
		if f.GroupByCode {
			sb.WriteString(p.code.Sprint(key))
		} else {
			sb.WriteString(p.file.Sprint(key))
		}
		sb.WriteString(p.dim.Sprintf(" (%d problems)", len(findings)))
		sb.WriteString("\n")

		for _, finding := range findings {
			f.formatFinding(&sb, p, finding, contexts)
		}
		sb.WriteString("\n")
	}

	errorCount, warningCount, infoCount, hintCount := report.CountBySeverity()
	parts := make([]string, 0, 4)
	if errorCount > 0 {
		parts = append(parts, p.severity[SeverityError].Sprintf("%d errors", errorCount))
	}
	if warningCount > 0 {
		parts = append(parts, p.severity[SeverityWarning].Sprintf("%d warnings", warningCount))
	}
	if infoCount > 0 {
		parts = append(parts, p.severity[SeverityInfo].Sprintf("%d info", infoCount))
	}
	if hintCount > 0 {
		parts = append(parts, p.severity[SeverityHint].Sprintf("%d hints", hintCount))
	}
	sb.WriteString("Summary: " + strings.Join(parts, ", ") + "\n")

	return sb.String()
}

func (f *TextFormatter) group(report *Report) (map[string][]Finding, []string) {
	groups := make(map[string][]Finding)
	var order []string
	for _, finding := range report.Findings {
		key := finding.File
		if f.GroupByCode {
			key = finding.Code
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], finding)
	}
	return groups, order
}

func (f *TextFormatter) formatFinding(sb *strings.Builder, p palette, finding Finding, contexts *CodeContextCache) {
	severityColor, ok := p.severity[finding.Severity]
	if !ok {
		severityColor = p.severity[SeverityError]
	}

	location := fmt.Sprintf("%d:%d", finding.Start.Line, finding.Start.Column)
	if f.GroupByCode {
		location = finding.File + ":" + location
	}

	sb.WriteString("  ")
	sb.WriteString(p.dim.Sprint(location))
	sb.WriteString(" ")
	sb.WriteString(severityColor.Sprint(finding.Severity.String()))
	sb.WriteString(" ")
	sb.WriteString(finding.Message)
	if !f.GroupByCode {
		sb.WriteString(" ")
		sb.WriteString(p.code.Sprintf("[%s]", finding.Code))
	}
	if finding.Cached {
		sb.WriteString(p.dim.Sprint(" (cached)"))
	}
	sb.WriteString("\n")

	for _, fix := range finding.Fixes {
		sb.WriteString("      ")
		sb.WriteString(p.dim.Sprint("fix: "))
		sb.WriteString(fix.Title)
		sb.WriteString("\n")
	}

	if contexts != nil {
		ctx, err := contexts.GetContext(finding.File, finding.Start, f.ContextLines)
		if err == nil && ctx != nil {
			for _, line := range strings.Split(strings.TrimSuffix(ctx.Format(true), "\n"), "\n") {
				sb.WriteString("    ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
	}
}
