package recon

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tests := map[string]struct {
		setupConfigFile func(fs afero.Fs) error
		path            string
		cfgFile         string
	}{
		"should load config from the current directory": {
			setupConfigFile: func(fs afero.Fs) error {
				return afero.WriteFile(fs, "config", defaultConfigTestFile(t), 0o644)
			},
			path:    ".",
			cfgFile: "config",
		},
		"should load config from .recon folder in the current directory": {
			setupConfigFile: func(fs afero.Fs) error {
				if err := fs.Mkdir(".recon", 0o755); err != nil {
					return err
				}
				return afero.WriteFile(fs, ".recon/config.yml", defaultConfigTestFile(t), 0o644)
			},
			path:    ".",
			cfgFile: ".recon/config.yml",
		},
		"should load config from /home/test/.recon directory": {
			setupConfigFile: func(fs afero.Fs) error {
				if err := fs.MkdirAll("/home/test/.recon", 0o755); err != nil {
					return err
				}
				return afero.WriteFile(fs, "/home/test/.recon/config", defaultConfigTestFile(t), 0o644)
			},
			path:    "/home/test/.recon",
			cfgFile: "config",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			memFs := afero.NewMemMapFs()
			require.NoError(t, test.setupConfigFile(memFs))

			config, err := LoadConfig(memFs, test.path, test.cfgFile)
			require.NoError(t, err)

			assertDefaultConfigTestFile(t, config)
			assert.NotEmpty(t, config.Path)
		})
	}
}

func TestEmptyConfig(t *testing.T) {
	memFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(memFs, "config", nil, 0o644))

	config, err := LoadConfig(memFs, ".", "config")
	require.NoError(t, err)

	assertDefaultValues(t, config)
}

func TestMissingConfig(t *testing.T) {
	_, err := LoadConfig(afero.NewMemMapFs(), "/nowhere", "")
	require.Error(t, err)

	info, ok := GetErrorInfo(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeConfig, info.Type)
	assert.Equal(t, "config file not found", info.Message)
}

func TestInvalidYamlConfig(t *testing.T) {
	memFs := afero.NewMemMapFs()

	invalidYAML := `
	rules:
	 - name: "no-todo"
	   pattern: "TODO
	   exclude:
	     - "vendor/**"
	`

	require.NoError(t, afero.WriteFile(memFs, "config", []byte(invalidYAML), 0o644))
	_, err := LoadConfig(memFs, ".", "config")
	require.Error(t, err)
	require.Equal(t, "[config] failed loading config file: While parsing config: yaml: line 2: found character that cannot start any token", err.Error())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		wantErr string
	}{
		{name: "valid", rules: []Rule{{Name: "a", Pattern: "x", Files: []string{"**/*.go"}}}},
		{name: "missing name", rules: []Rule{{Pattern: "x"}}, wantErr: "rule without a name"},
		{name: "missing pattern", rules: []Rule{{Name: "a"}}, wantErr: "rule without a pattern"},
		{name: "duplicate name", rules: []Rule{{Name: "a", Pattern: "x"}, {Name: "a", Pattern: "y"}}, wantErr: "duplicate rule name"},
		{name: "invalid glob", rules: []Rule{{Name: "a", Pattern: "x", Exclude: []string{"[abc"}}}, wantErr: "invalid glob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Rules: tt.rules, Path: ".recon.yml"}.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			info, ok := GetErrorInfo(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantErr, info.Message)
			assert.Equal(t, ".recon.yml", info.File)
		})
	}
}

func TestConfigRejectsDuplicateRules(t *testing.T) {
	memFs := afero.NewMemMapFs()
	content := "rules:\n  - name: a\n    pattern: x\n  - name: a\n    pattern: y\n"
	require.NoError(t, afero.WriteFile(memFs, ".recon.yml", []byte(content), 0o644))

	_, err := LoadConfig(memFs, ".", ".recon.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule name")
}

func TestLanguageFor(t *testing.T) {
	t.Run("default languages", func(t *testing.T) {
		cfg := Config{}
		assert.Equal(t, "go.mod", cfg.LanguageFor("go.mod"))
		assert.Equal(t, "go.mod", cfg.LanguageFor("/repo/tools/go.mod"))
		assert.Equal(t, "go", cfg.LanguageFor("cmd/main.go"))
		assert.Equal(t, "yaml", cfg.LanguageFor(".recon.yml"))
		assert.Equal(t, "markdown", cfg.LanguageFor("docs/README.md"))
		assert.Equal(t, "", cfg.LanguageFor("image.png"))
	})

	t.Run("configured languages win", func(t *testing.T) {
		cfg := Config{Languages: []Language{{Kind: "text", Patterns: []string{"**/*.txt", "*.txt"}}}}
		assert.Equal(t, "text", cfg.LanguageFor("notes.txt"))
		assert.Equal(t, "", cfg.LanguageFor("main.go"))
	})
}

func defaultConfigTestFile(t *testing.T) []byte {
	t.Helper()

	return []byte(`
server:
  extension_id: "acme"
  log_level: "debug"
rules:
  - name: "no-todo"
    pattern: "TODO"
    message: "resolve the TODO"
    severity: "warning"
    exclude:
      - "vendor/**"
  - name: "no-fmt-print"
    pattern: 'fmt\.Print(ln)?'
    severity: "hint"
    replacement: "log.Print$1"
    languages: ["go"]
languages:
  - kind: "text"
    patterns: ["**/*.txt"]
cache_file: "new_cache.json"
`)
}

func assertDefaultConfigTestFile(t *testing.T, config Config) {
	t.Helper()

	assert.Equal(t, "acme", config.Server.ExtensionID)
	assert.Equal(t, "acme/moveCursor", config.Server.MoveCursorMethod)
	assert.Equal(t, "debug", config.Server.LogLevel)
	assert.False(t, config.Incremental)
	assert.Equal(t, "new_cache.json", config.CacheFile)

	require.Len(t, config.Rules, 2)
	assert.Equal(t, "no-todo", config.Rules[0].Name)
	assert.Equal(t, "TODO", config.Rules[0].Pattern)
	assert.Equal(t, "warning", config.Rules[0].Severity)
	assert.Equal(t, []string{"vendor/**"}, config.Rules[0].Exclude)
	assert.Nil(t, config.Rules[0].Replacement)

	assert.Equal(t, "no-fmt-print", config.Rules[1].Name)
	require.NotNil(t, config.Rules[1].Replacement)
	assert.Equal(t, "log.Print$1", *config.Rules[1].Replacement)
	assert.Equal(t, []string{"go"}, config.Rules[1].Languages)

	assert.Equal(t, []Language{{Kind: "text", Patterns: []string{"**/*.txt"}}}, config.Languages)
}

func assertDefaultValues(t *testing.T, config Config) {
	t.Helper()

	assert.Equal(t, DefaultExtensionID, config.Server.ExtensionID)
	assert.Equal(t, "recon/moveCursor", config.Server.MoveCursorMethod)
	assert.Equal(t, "info", config.Server.LogLevel)
	assert.False(t, config.Incremental)
	assert.Equal(t, ".recon.cache", config.CacheFile)
	assert.Equal(t, DefaultLanguages, config.Languages)

	assert.Empty(t, config.Rules)
}
