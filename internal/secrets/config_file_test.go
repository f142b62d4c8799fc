package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := LoadConfigFile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "absent.toml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("custom rule and allowlist", func(t *testing.T) {
		path := writeTOML(t, `
[[rules]]
id = "internal-token"
regex = '''itk_[a-z0-9]{32}'''
keywords = ["itk_"]

[allowlist]
regexes = ['''ghp_EXAMPLE[A-Za-z0-9]+''']
`)
		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Rules, len(DefaultRules())+1)
		assert.Equal(t, []string{`ghp_EXAMPLE[A-Za-z0-9]+`}, cfg.AllowList)

		s, err := New(cfg)
		require.NoError(t, err)

		res := s.Scrub("token itk_" + strings.Repeat("a", 32))
		assert.Equal(t, []string{"internal-token"}, res.RuleIDs())
		assert.Equal(t, SeverityHigh, res.Findings[0].Severity)

		example := "ghp_EXAMPLE" + strings.Repeat("A", 31)
		assert.Empty(t, s.Check("use "+example))
	})

	t.Run("rule with built-in id replaces it", func(t *testing.T) {
		path := writeTOML(t, `
[[rules]]
id = "github-token"
regex = '''ghx_[a-z]{4}'''
severity = "medium"
`)
		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		assert.Len(t, cfg.Rules, len(DefaultRules()))
		i := ruleIndex(cfg.Rules, "github-token")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, SeverityMedium, cfg.Rules[i].Severity)
	})

	t.Run("invalid toml", func(t *testing.T) {
		_, err := LoadConfigFile(writeTOML(t, "[[rules]\nid ="))
		assert.ErrorIs(t, err, ErrInvalidTOML)
	})

	t.Run("invalid regex", func(t *testing.T) {
		_, err := LoadConfigFile(writeTOML(t, "[allowlist]\nregexes = ['(']\n"))
		assert.ErrorIs(t, err, ErrInvalidRegex)

		_, err = LoadConfigFile(writeTOML(t, "[[rules]]\nid = \"x\"\nregex = '['\n"))
		assert.ErrorIs(t, err, ErrInvalidRegex)
	})
}
