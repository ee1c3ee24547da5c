package lsp

import (
	"testing"

	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const editorConfig = `# project rules
server:
  extension_id: recon
rules:
  - name: no-foo
    pattern: foo
    message: avoid foo # keep it short
  - name: no-todo
    pattern: TODO
    exclude:
      - vendor/**
`

func writeConfig(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

// excludesAfter applies edits to the config and returns the exclude list of rule.
func excludesAfter(t *testing.T, before string, edits []lsp.TextEdit, rule string) ([]string, string) {
	t.Helper()

	after := applyTextEdits(t, before, edits)
	var cfg recon.Config
	require.NoError(t, yaml.Unmarshal([]byte(after), &cfg))
	for _, r := range cfg.Rules {
		if r.Name == rule {
			return r.Exclude, after
		}
	}
	t.Fatalf("rule %s missing after edit", rule)
	return nil, after
}

func TestConfigEditor_AddExclude(t *testing.T) {
	t.Run("creates the exclude list", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeConfig(t, fs, "/project/.recon.yml", editorConfig)

		editor := NewConfigEditor(fs, "/project/.recon.yml")
		assert.Equal(t, "/project/.recon.yml", editor.Path())

		edits, err := editor.AddExclude("no-foo", "/internal/a.go")
		require.NoError(t, err)
		require.NotEmpty(t, edits)

		excludes, after := excludesAfter(t, editorConfig, edits, "no-foo")
		assert.Equal(t, []string{"internal/a.go"}, excludes)
		assert.Contains(t, after, "# project rules")
		assert.Contains(t, after, "# keep it short")

		content, err := afero.ReadFile(fs, "/project/.recon.yml")
		require.NoError(t, err)
		assert.Equal(t, editorConfig, string(content), "the file on disk is left to the client")
	})

	t.Run("appends to an existing list", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeConfig(t, fs, "/c.yml", editorConfig)

		edits, err := NewConfigEditor(fs, "/c.yml").AddExclude("no-todo", "cmd/main.go")
		require.NoError(t, err)

		excludes, _ := excludesAfter(t, editorConfig, edits, "no-todo")
		assert.Equal(t, []string{"vendor/**", "cmd/main.go"}, excludes)
	})

	t.Run("replaces an empty exclude", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := "rules:\n  - name: r\n    pattern: x\n    exclude:\n"
		writeConfig(t, fs, "/c.yml", content)

		edits, err := NewConfigEditor(fs, "/c.yml").AddExclude("r", "a.go")
		require.NoError(t, err)

		excludes, _ := excludesAfter(t, content, edits, "r")
		assert.Equal(t, []string{"a.go"}, excludes)
	})

	t.Run("already excluded returns no edits", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		content := "rules:\n  - name: r\n    pattern: x\n    exclude:\n      - a.go\n"
		writeConfig(t, fs, "/c.yml", content)

		edits, err := NewConfigEditor(fs, "/c.yml").AddExclude("r", "a.go")
		require.NoError(t, err)
		assert.Nil(t, edits)
	})

	t.Run("glob characters are escaped", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeConfig(t, fs, "/c.yml", editorConfig)

		edits, err := NewConfigEditor(fs, "/c.yml").AddExclude("no-foo", "pages/[id]/*.go")
		require.NoError(t, err)

		excludes, _ := excludesAfter(t, editorConfig, edits, "no-foo")
		assert.Equal(t, []string{`pages/\[id\]/\*.go`}, excludes)
	})

	t.Run("unknown rule", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeConfig(t, fs, "/c.yml", editorConfig)

		_, err := NewConfigEditor(fs, "/c.yml").AddExclude("missing", "a.go")
		assert.ErrorIs(t, err, ErrRuleNotFound)
	})

	t.Run("config without rules", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeConfig(t, fs, "/c.yml", "server:\n  log_level: debug\n")

		_, err := NewConfigEditor(fs, "/c.yml").AddExclude("r", "a.go")
		assert.ErrorIs(t, err, ErrRuleNotFound)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		writeConfig(t, fs, "/c.yml", "rules: [\n")

		_, err := NewConfigEditor(fs, "/c.yml").AddExclude("r", "a.go")
		info, ok := recon.GetErrorInfo(err)
		require.True(t, ok)
		assert.Equal(t, recon.ErrorTypeConfig, info.Type)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewConfigEditor(afero.NewMemMapFs(), "/nope.yml").AddExclude("r", "a.go")
		info, ok := recon.GetErrorInfo(err)
		require.True(t, ok)
		assert.Equal(t, recon.ErrorTypeFS, info.Type)
		assert.Equal(t, "/nope.yml", info.File)
	})
}

func TestEscapeGlob(t *testing.T) {
	tests := map[string]string{
		"a/b.go":        "a/b.go",
		"a/*.go":        `a/\*.go`,
		"a?/{x,y}/[z]":  `a\?/\{x,y\}/\[z\]`,
		`windows\style`: `windows\\style`,
	}
	for in, want := range tests {
		assert.Equal(t, want, escapeGlob(in), in)
	}
}

func TestFindConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "/project/.recon.yml", editorConfig)
	writeConfig(t, fs, "/project/sub/recon.yaml", editorConfig)
	writeConfig(t, fs, "/project/sub/dir/a.go", "package dir")
	writeConfig(t, fs, "/project/other/b.go", "package other")

	tests := []struct {
		name string
		uri  string
		want string
	}{
		{name: "nearest wins", uri: "file:///project/sub/dir/a.go", want: "/project/sub/recon.yaml"},
		{name: "walks up", uri: "file:///project/other/b.go", want: "/project/.recon.yml"},
		{name: "directory uri", uri: "file:///project/other", want: "/project/.recon.yml"},
		{name: "same directory", uri: "file:///project/main.go", want: "/project/.recon.yml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindConfigFile(fs, tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("not found", func(t *testing.T) {
		_, err := FindConfigFile(afero.NewMemMapFs(), "file:///elsewhere/x.go")
		info, ok := recon.GetErrorInfo(err)
		require.True(t, ok)
		assert.Equal(t, recon.ErrorTypeConfig, info.Type)
	})
}
