package secrets

// DefaultRules covers the credentials most likely to surface in coding
// agent transcripts: forge and tracker tokens, model provider keys, cloud
// keys, connection strings and key material.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "github-token", Description: "GitHub token", Pattern: `(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}`},
		{ID: "github-fine-grained", Description: "GitHub fine-grained token", Pattern: `github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Description: "GitLab personal access token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "linear-api-key", Description: "Linear API key", Pattern: `lin_api_[A-Za-z0-9]{32,}`},
		{ID: "anthropic-api-key", Description: "Anthropic API key", Pattern: `sk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "openai-api-key", Description: "OpenAI API key", Pattern: `sk-(?:proj-)?[A-Za-z0-9]{40,}`},
		{ID: "aws-access-key-id", Description: "AWS access key id", Pattern: `(?:AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`},
		{
			ID:          "aws-secret-access-key",
			Description: "AWS secret access key",
			Pattern:     `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`,
			Keywords:    []string{"secret_access_key"},
		},
		{ID: "google-api-key", Description: "Google API key", Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "slack-token", Description: "Slack token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Description: "Stripe key", Pattern: `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "npm-token", Description: "npm token", Pattern: `npm_[A-Za-z0-9]{36}`},
		{ID: "jwt", Description: "JSON web token", Pattern: `eyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]+`},
		{
			ID:          "private-key",
			Description: "PEM private key header",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`,
		},
		{
			ID:          "database-url",
			Description: "Connection string with password",
			Pattern:     `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp|nats)://[^:\s/]+:[^@\s]+@\S+`,
			Keywords:    []string{"://"},
		},
		{
			ID:          "bearer-token",
			Description: "Authorization bearer token",
			Pattern:     `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords:    []string{"bearer"},
		},
		{
			ID:          "env-credential",
			Description: "Credential assigned to a sensitive variable",
			Pattern:     `(?i)\b(?:[A-Z0-9_]*(?:PASSWORD|SECRET|TOKEN|API_KEY))\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords:    []string{"password", "secret", "token", "api_key"},
		},
	}
}
