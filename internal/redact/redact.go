// Package redact scrubs secret-looking substrings from text before it is
// logged, indexed, or returned to a caller.
package redact

import (
	"os"
	"regexp"
	"strings"
	"sync"
)

// DefaultReplacement is used for patterns loaded from the environment.
const DefaultReplacement = "REDACTED"

// ExtraPatternsEnv lists additional regex patterns, separated by ";;".
const ExtraPatternsEnv = "PROCMUX_REDACTION_PATTERNS"

type rule struct {
	re          *regexp.Regexp
	replacement string
}

var defaultRules = []rule{
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]{10,}`), "sk-REDACTED"},
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`), "gh-REDACTED"},
	{regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`), "github_pat_REDACTED"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "AKIA_REDACTED"},
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer REDACTED"},
	{regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:api[_-]?key|token|secret|password))\s*[:=]\s*([^\s,;]+)`), "${1}=REDACTED"},
}

var (
	rulesOnce sync.Once
	rules     []rule
)

// Result holds the scrubbed text and a count of substitutions made.
type Result struct {
	Text         string `json:"text"`
	Redacted     bool   `json:"redacted"`
	Replacements int    `json:"replacements"`
}

// Redact applies all configured patterns to text and reports how many
// substitutions were made. It never fails; unmatchable input is returned
// unchanged.
func Redact(text string) Result {
	value := text
	total := 0
	for _, r := range compiledRules() {
		matches := r.re.FindAllStringIndex(value, -1)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		value = r.re.ReplaceAllString(value, r.replacement)
	}
	return Result{Text: value, Redacted: total > 0, Replacements: total}
}

func compiledRules() []rule {
	rulesOnce.Do(func() {
		rules = append(rules, defaultRules...)
		raw := strings.TrimSpace(os.Getenv(ExtraPatternsEnv))
		if raw == "" {
			return
		}
		for _, token := range strings.Split(raw, ";;") {
			pattern := strings.TrimSpace(token)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				// Bad user-supplied patterns are skipped, not fatal.
				continue
			}
			rules = append(rules, rule{re, DefaultReplacement})
		}
	})
	return rules
}
