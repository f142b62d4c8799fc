package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Errors returned by LoadConfigFile.
var (
	ErrInvalidTOML  = errors.New("invalid secrets config")
	ErrInvalidRegex = errors.New("invalid secrets pattern")
)

// fileConfig is the gitleaks-compatible subset read from TOML:
//
//	[[rules]]
//	id = "internal-token"
//	regex = '''itk_[a-z0-9]{32}'''
//	keywords = ["itk_"]
//
//	[allowlist]
//	regexes = ['''EXAMPLE[A-Z0-9]+''']
type fileConfig struct {
	Rules []struct {
		ID       string   `toml:"id"`
		Regex    string   `toml:"regex"`
		Severity string   `toml:"severity"`
		Keywords []string `toml:"keywords"`
	} `toml:"rules"`
	Allowlist struct {
		Regexes []string `toml:"regexes"`
	} `toml:"allowlist"`
}

// LoadConfigFile extends the built-in configuration with the rules and
// allowlist in the TOML file at path. An empty path or a missing file
// yields DefaultConfig. Custom rules replace built-in rules with the same
// id.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, r := range fc.Rules {
		if _, err := regexp.Compile(r.Regex); err != nil {
			return Config{}, fmt.Errorf("%w: rule %q in %s: %v", ErrInvalidRegex, r.ID, path, err)
		}
		severity := Severity(r.Severity)
		if severity == "" {
			severity = SeverityHigh
		}
		rule := Rule{ID: r.ID, Pattern: r.Regex, Severity: severity, Keywords: r.Keywords}
		if i := ruleIndex(cfg.Rules, r.ID); i >= 0 {
			cfg.Rules[i] = rule
		} else {
			cfg.Rules = append(cfg.Rules, rule)
		}
	}

	for _, pattern := range fc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return Config{}, fmt.Errorf("%w: allowlist pattern %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}
	cfg.AllowList = append(cfg.AllowList, fc.Allowlist.Regexes...)
	return cfg, nil
}

func ruleIndex(rules []Rule, id string) int {
	for i, r := range rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}
