package recon

import "log/slog"

// LanguageGoMod is the language kind of go.mod documents
const LanguageGoMod = "go.mod"

// BuildAnalyzer assembles the analyzers configured by cfg: go.mod documents
// go to a ModAnalyzer and everything else to the rule analyzer, which is
// also returned so callers can swap its rules on reload.
func BuildAnalyzer(cfg Config, root string, logger *slog.Logger) (*ByLanguage, *RuleAnalyzer, error) {
	rules, err := NewRuleAnalyzer(cfg.Rules, root, cfg.Path, logger)
	if err != nil {
		return nil, nil, err
	}

	analyzer := NewByLanguage(rules).
		Handle(LanguageGoMod, NewModAnalyzer("", logger))
	return analyzer, rules, nil
}
