package recon

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
)

// compiledRule is a Rule ready to run.
type compiledRule struct {
	Rule
	re       *regexp.Regexp
	severity Severity
}

// RuleAnalyzer reports every match of the configured pattern rules.
type RuleAnalyzer struct {
	rules      atomic.Pointer[[]compiledRule]
	root       atomic.Pointer[string]
	configPath string
	logger     *slog.Logger
}

// NewRuleAnalyzer compiles rules. root is used to make document paths
// relative before glob matching; configPath, when set, enables the
// suppress fix.
func NewRuleAnalyzer(rules []Rule, root, configPath string, logger *slog.Logger) (*RuleAnalyzer, error) {
	a := &RuleAnalyzer{
		configPath: configPath,
		logger:     ensureLogger(logger),
	}
	a.SetRoot(root)
	if err := a.SetRules(rules); err != nil {
		return nil, err
	}
	return a, nil
}

// SetRules replaces the rule set. Passes already running keep the rules
// they started with.
func (a *RuleAnalyzer) SetRules(rules []Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return NewConfigError("invalid rule pattern", err).WithDetails(r.Name)
		}
		compiled = append(compiled, compiledRule{
			Rule:     r,
			re:       re,
			severity: ParseSeverity(r.Severity),
		})
	}
	a.rules.Store(&compiled)
	return nil
}

// SetRoot changes the directory document paths are made relative to.
func (a *RuleAnalyzer) SetRoot(root string) {
	a.root.Store(&root)
}

// Root returns the directory document paths are made relative to.
func (a *RuleAnalyzer) Root() string {
	if r := a.root.Load(); r != nil {
		return *r
	}
	return ""
}

// Rules returns the number of active rules.
func (a *RuleAnalyzer) Rules() int {
	if r := a.rules.Load(); r != nil {
		return len(*r)
	}
	return 0
}

// Reconcile implements Analyzer. It publishes a checkpoint after each rule.
func (a *RuleAnalyzer) Reconcile(ctx context.Context, doc Snapshot, problems ProblemCollector) error {
	rules := *a.rules.Load()
	rel := RelPath(a.Root(), doc.Path())

	problems.BeginCollecting()
	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.appliesTo(doc.LanguageKind, rel) {
			continue
		}

		matches := r.re.FindAllStringSubmatchIndex(doc.Content, -1)
		for _, m := range matches {
			if m[1] == m[0] {
				continue // empty matches cannot be highlighted
			}
			problems.Accept(a.problemFor(r, doc, rel, m))
		}
		if len(matches) > 0 {
			a.logger.Debug("Rule matched", "rule", r.Name, "uri", doc.URI, "matches", len(matches))
		}
		problems.Checkpoint()
	}
	problems.EndCollecting()

	return nil
}

func (a *RuleAnalyzer) problemFor(r compiledRule, doc Snapshot, rel string, match []int) Problem {
	start, end := match[0], match[1]
	message := r.Message
	if message == "" {
		message = fmt.Sprintf("matches rule %q", r.Name)
	}

	p := Problem{
		Code:     r.Name,
		Message:  message,
		Offset:   start,
		Length:   end - start,
		Severity: r.severity,
	}

	if r.Replacement != nil {
		replacement := string(r.re.ExpandString(nil, *r.Replacement, doc.Content, match))
		title := fmt.Sprintf("Replace with %q", replacement)
		if replacement == "" {
			title = "Remove match"
		}
		p.Fixes = append(p.Fixes, NewTextEditFix(title, TextEditFix{
			Edits: []OffsetEdit{{Offset: start, Length: end - start, NewText: replacement}},
		}))
	}

	if a.configPath != "" {
		p.Fixes = append(p.Fixes, NewSuppressRuleFix(r.Name, rel))
	}

	return p
}

func (r compiledRule) appliesTo(languageKind, path string) bool {
	if len(r.Languages) > 0 && !slices.Contains(r.Languages, languageKind) {
		return false
	}
	path = strings.TrimPrefix(path, "/")
	if len(r.Files) > 0 && !matchAny(r.Files, path) {
		return false
	}
	return !matchAny(r.Exclude, path)
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, path); ok {
			return true
		}
	}
	return false
}

func ensureLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
