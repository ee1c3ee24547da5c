package recon

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config is the on-disk configuration shared by the CLI and the language server.
type Config struct {
	Server      ServerConfig `yaml:"server" mapstructure:"server"`
	Rules       []Rule       `yaml:"rules" mapstructure:"rules"`
	Languages   []Language   `yaml:"languages" mapstructure:"languages"`
	Incremental bool         `yaml:"incremental" mapstructure:"incremental"`
	CacheFile   string       `yaml:"cache_file" mapstructure:"cache_file"`

	// Path is the config file that was read, empty when none was found.
	Path string `yaml:"-" mapstructure:"-"`
}

// ServerConfig holds the language server settings.
type ServerConfig struct {
	ExtensionID      string `yaml:"extension_id" mapstructure:"extension_id"`
	MoveCursorMethod string `yaml:"move_cursor_method" mapstructure:"move_cursor_method"`
	LogLevel         string `yaml:"log_level" mapstructure:"log_level"`
	LogFile          string `yaml:"log_file" mapstructure:"log_file"`
}

// Rule is a pattern based check reported by the RuleAnalyzer.
type Rule struct {
	Name        string   `yaml:"name" mapstructure:"name"`
	Pattern     string   `yaml:"pattern" mapstructure:"pattern"`
	Message     string   `yaml:"message" mapstructure:"message"`
	Severity    string   `yaml:"severity" mapstructure:"severity"`
	Replacement *string  `yaml:"replacement,omitempty" mapstructure:"replacement"`
	Languages   []string `yaml:"languages,omitempty" mapstructure:"languages"`
	Files       []string `yaml:"files,omitempty" mapstructure:"files"`
	Exclude     []string `yaml:"exclude,omitempty" mapstructure:"exclude"`
}

// Language maps file globs to a language kind for documents that do not
// come with one, such as files read by the batch checker.
type Language struct {
	Kind     string   `yaml:"kind" mapstructure:"kind"`
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
}

// DefaultExtensionID names the server when the config does not.
const DefaultExtensionID = "recon"

// DefaultLanguages is used when the config declares no languages.
var DefaultLanguages = []Language{
	{Kind: "go.mod", Patterns: []string{"**/go.mod", "go.mod"}},
	{Kind: "go", Patterns: []string{"**/*.go"}},
	{Kind: "yaml", Patterns: []string{"**/*.yml", "**/*.yaml"}},
	{Kind: "markdown", Patterns: []string{"**/*.md"}},
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ExtensionID:      DefaultExtensionID,
			MoveCursorMethod: DefaultExtensionID + "/moveCursor",
			LogLevel:         "info",
		},
		Rules:     []Rule{},
		Languages: DefaultLanguages,
		CacheFile: ".recon.cache",
	}
}

// LoadConfig reads the configuration with viper. cfgFile may be a full path
// or a config name searched in path, the working directory and $HOME/.recon.
func LoadConfig(fs afero.Fs, path string, cfgFile string) (Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yml")

	fileInfo, statErr := fs.Stat(cfgFile)
	if statErr == nil && !fileInfo.IsDir() {
		v.SetConfigFile(cfgFile)
	} else {
		if cfgFile != "" {
			if strings.HasSuffix(cfgFile, ".yml") || strings.HasSuffix(cfgFile, ".yaml") {
				v.SetConfigFile(cfgFile)
			} else {
				v.SetConfigName(cfgFile)
			}
		} else {
			v.SetConfigName(".recon")
		}

		v.AddConfigPath(path)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.recon")
		v.AddConfigPath("./.recon")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return Config{}, NewConfigError("config file not found", err)
		}
		return Config{}, NewConfigError("failed loading config file", err).WithFile(cfgFile)
	}

	defaults := DefaultConfig()
	v.SetDefault("server.extension_id", defaults.Server.ExtensionID)
	v.SetDefault("server.move_cursor_method", "")
	v.SetDefault("server.log_level", defaults.Server.LogLevel)
	v.SetDefault("incremental", false)
	v.SetDefault("rules", []Rule{})
	v.SetDefault("languages", []Language{})
	v.SetDefault("cache_file", defaults.CacheFile)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, NewConfigError("failed unmarshaling config file", err).WithFile(v.ConfigFileUsed())
	}

	if config.Server.MoveCursorMethod == "" {
		config.Server.MoveCursorMethod = config.Server.ExtensionID + "/moveCursor"
	}
	if len(config.Languages) == 0 {
		config.Languages = DefaultLanguages
	}
	config.Path = v.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate checks the parts of the config that viper cannot.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if r.Name == "" {
			return NewConfigError("rule without a name", nil).WithFile(c.Path)
		}
		if seen[r.Name] {
			return NewConfigError("duplicate rule name", nil).WithFile(c.Path).WithDetails(r.Name)
		}
		seen[r.Name] = true
		if r.Pattern == "" {
			return NewConfigError("rule without a pattern", nil).WithFile(c.Path).WithDetails(r.Name)
		}
		for _, g := range append(append([]string{}, r.Files...), r.Exclude...) {
			if !doublestar.ValidatePattern(g) {
				return NewConfigError("invalid glob", nil).WithFile(c.Path).WithDetails(r.Name + ": " + g)
			}
		}
	}
	return nil
}

// LanguageFor returns the language kind of path, or "" when no configured
// pattern matches.
func (c Config) LanguageFor(path string) string {
	languages := c.Languages
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	normalized := strings.TrimPrefix(NormalizePath(path), "/")
	for _, l := range languages {
		for _, p := range l.Patterns {
			if ok, _ := doublestar.Match(p, normalized); ok {
				return l.Kind
			}
		}
	}
	return ""
}
