package lsp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/aymanbagabas/go-udiff"
	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrRuleNotFound is returned when the config has no rule with the given name
var ErrRuleNotFound = errors.New("rule not found in config")

// ConfigEditor modifies the recon config file programmatically
type ConfigEditor struct {
	fs   afero.Fs
	path string
}

// NewConfigEditor creates a new ConfigEditor
func NewConfigEditor(fs afero.Fs, path string) *ConfigEditor {
	return &ConfigEditor{
		fs:   fs,
		path: path,
	}
}

// Path returns the edited config file
func (e *ConfigEditor) Path() string {
	return e.path
}

// AddExclude adds path to the exclude list of the named rule and returns
// the text edits that turn the current file into the updated one. No edits
// are returned when the path is already excluded.
func (e *ConfigEditor) AddExclude(ruleName string, path string) ([]lsp.TextEdit, error) {
	content, err := afero.ReadFile(e.fs, e.path)
	if err != nil {
		return nil, recon.NewFSError("failed to read config file", err).WithFile(e.path)
	}

	// Parse into a node tree to keep comments and key order
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return nil, recon.NewConfigError("failed to parse config YAML", err).WithFile(e.path)
	}

	rulesNode, err := e.findRulesNode(&node)
	if err != nil {
		return nil, err
	}

	ruleNode, err := e.findRuleNode(rulesNode, ruleName)
	if err != nil {
		return nil, err
	}

	pattern := escapeGlob(strings.TrimPrefix(path, "/"))
	if !e.addToExclude(ruleNode, pattern) {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, recon.NewConfigError("failed to marshal updated config", err).WithFile(e.path)
	}
	if err := enc.Close(); err != nil {
		return nil, recon.NewConfigError("failed to marshal updated config", err).WithFile(e.path)
	}

	return textEdits(string(content), buf.String())
}

// findRulesNode finds the "rules" node in the YAML document
func (e *ConfigEditor) findRulesNode(root *yaml.Node) (*yaml.Node, error) {
	if root.Kind != yaml.DocumentNode {
		return nil, recon.NewConfigError("expected document node", nil).WithFile(e.path)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, recon.NewConfigError("expected mapping node in document", nil).WithFile(e.path)
	}

	mapping := root.Content[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == "rules" {
			rules := mapping.Content[i+1]
			if rules.Kind != yaml.SequenceNode {
				return nil, recon.NewConfigError("rules node is not a sequence", nil).WithFile(e.path)
			}
			return rules, nil
		}
	}

	return nil, recon.NewConfigError("config has no rules", ErrRuleNotFound).WithFile(e.path)
}

// findRuleNode finds the rule mapping whose name is ruleName
func (e *ConfigEditor) findRuleNode(rulesNode *yaml.Node, ruleName string) (*yaml.Node, error) {
	for _, ruleNode := range rulesNode.Content {
		if ruleNode.Kind != yaml.MappingNode {
			continue
		}
		for i := 0; i+1 < len(ruleNode.Content); i += 2 {
			key, value := ruleNode.Content[i], ruleNode.Content[i+1]
			if key.Value == "name" && value.Value == ruleName {
				return ruleNode, nil
			}
		}
	}

	return nil, recon.NewConfigError("cannot suppress rule",
		fmt.Errorf("%w: %s", ErrRuleNotFound, ruleName)).WithFile(e.path)
}

// addToExclude appends pattern to the rule's exclude list. It reports
// whether the list changed.
func (e *ConfigEditor) addToExclude(ruleNode *yaml.Node, pattern string) bool {
	for i := 0; i+1 < len(ruleNode.Content); i += 2 {
		if ruleNode.Content[i].Value != "exclude" {
			continue
		}
		excludeNode := ruleNode.Content[i+1]
		if excludeNode.Kind != yaml.SequenceNode {
			// exclude: ~ or a scalar, replace with a list
			excludeNode.Kind = yaml.SequenceNode
			excludeNode.Tag = ""
			excludeNode.Value = ""
			excludeNode.Style = 0
			excludeNode.Content = nil
		}
		for _, item := range excludeNode.Content {
			if item.Value == pattern {
				return false
			}
		}
		excludeNode.Content = append(excludeNode.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Value: pattern,
		})
		return true
	}

	ruleNode.Content = append(ruleNode.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "exclude"},
		&yaml.Node{
			Kind:    yaml.SequenceNode,
			Content: []*yaml.Node{{Kind: yaml.ScalarNode, Value: pattern}},
		})
	return true
}

// textEdits computes the minimal edits from before to after.
func textEdits(before, after string) ([]lsp.TextEdit, error) {
	doc := recon.NewSnapshot("", "", 0, before)

	diffs := udiff.Strings(before, after)
	edits := make([]lsp.TextEdit, 0, len(diffs))
	for _, d := range diffs {
		span, err := doc.SpanOf(d.Start, d.End-d.Start)
		if err != nil {
			return nil, recon.NewFixError("failed to map config edit", err)
		}
		edits = append(edits, lsp.TextEdit{Range: spanToRange(span), NewText: d.New})
	}
	return edits, nil
}

// escapeGlob quotes glob metacharacters so path only matches itself
func escapeGlob(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// configNames are searched for by FindConfigFile, in order
var configNames = []string{".recon.yml", ".recon.yaml", "recon.yml", "recon.yaml"}

// FindConfigFile searches for a config file starting from the directory of
// the given URI and walking up.
func FindConfigFile(fs afero.Fs, fileURI string) (string, error) {
	path := recon.URIToPath(fileURI)

	dir := path
	if !isDirFs(fs, dir) {
		dir = recon.DirPath(dir)
	}

	for {
		for _, name := range configNames {
			configPath := recon.JoinPaths(dir, name)
			if exists, _ := afero.Exists(fs, configPath); exists {
				return configPath, nil
			}
		}

		parent := recon.DirPath(dir)
		if parent == dir || parent == "" {
			break
		}
		dir = parent
	}

	return "", recon.NewConfigError("config file not found", nil).WithFile(path)
}

func isDirFs(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
