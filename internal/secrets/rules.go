package secrets

// Severity grades how damaging a leaked match would be.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Rule detects one kind of credential.
type Rule struct {
	ID       string   `koanf:"id"`
	Pattern  string   `koanf:"pattern"`
	Severity Severity `koanf:"severity"`
	// Keywords gate the rule: when set, at least one must appear
	// (case-insensitive) somewhere in the text before the pattern runs.
	Keywords []string `koanf:"keywords"`
}

// DefaultRules returns the detection rules applied to chat transcripts and
// generated documentation. Self-identifying token prefixes need no keywords.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`, Severity: SeverityHigh},
		{ID: "aws-access-key-id", Pattern: `(?:A3T[A-Z0-9]|AKIA|ASIA|AROA|AIDA)[A-Z0-9]{16}`, Severity: SeverityHigh},
		{ID: "github-token", Pattern: `(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}|github_pat_[A-Za-z0-9_]{22,}`, Severity: SeverityHigh},
		{ID: "gitlab-token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`, Severity: SeverityHigh},
		{ID: "slack-token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`, Severity: SeverityHigh},
		{ID: "telegram-bot-token", Pattern: `\b[0-9]{8,10}:AA[A-Za-z0-9_\-]{33}\b`, Severity: SeverityHigh},
		{ID: "discord-bot-token", Pattern: `\b[MN][A-Za-z0-9_\-]{23,25}\.[A-Za-z0-9_\-]{6}\.[A-Za-z0-9_\-]{27,38}\b`, Severity: SeverityHigh},
		{ID: "stripe-key", Pattern: `(?:sk|rk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`, Severity: SeverityHigh},
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{32,}`, Severity: SeverityHigh},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9_\-]{40,}`, Severity: SeverityHigh},
		{ID: "google-api-key", Pattern: `AIza[A-Za-z0-9_\-]{35}`, Severity: SeverityHigh},
		{ID: "npm-token", Pattern: `npm_[A-Za-z0-9]{36}`, Severity: SeverityHigh},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`, Severity: SeverityMedium},
		{
			ID:       "database-url",
			Pattern:  `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@\S+`,
			Severity: SeverityHigh,
		},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-\.]{16,}['"]?`,
			Severity: SeverityHigh,
			Keywords: []string{"key", "token"},
		},
		{
			ID:       "generic-password",
			Pattern:  `(?i)(?:password|passwd|pwd|secret)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Severity: SeverityHigh,
			Keywords: []string{"pass", "pwd", "secret"},
		},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Severity: SeverityMedium,
			Keywords: []string{"bearer"},
		},
	}
}
