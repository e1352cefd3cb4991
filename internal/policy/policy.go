// Package policy classifies parsed commands into risk tiers and decides
// whether a profile permits their execution. Decisions are pure: evaluating
// a command has no side effects.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Valid policy profiles, from most to least restrictive.
const (
	ProfileStrict   = "strict"
	ProfileBalanced = "balanced"
	ProfileTrusted  = "trusted"
)

// Risk tiers assigned to commands.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var highRiskFlags = map[string]bool{
	"--dangerously-bypass-approvals-and-sandbox": true,
	"--danger-full-access":                       true,
	"--sandbox=danger-full-access":               true,
	"--yolo":                                     true,
}

var mediumRiskFlags = map[string]bool{
	"--sandbox=workspace-write": true,
	"--sandbox=read-only":       true,
}

// Decision is the outcome of evaluating a command against a profile.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	RiskTier string `json:"risk_tier"`
	Reason   string `json:"reason"`
}

// Engine evaluates commands. An empty allowlist means any binary may run in
// strict and balanced profiles, subject to risk-tier rules; a non-empty
// allowlist restricts those profiles to the listed binaries. The trusted
// profile bypasses both checks.
type Engine struct {
	allowedBinaries map[string]bool
}

// NewEngine creates a policy engine with an optional binary allowlist.
func NewEngine(allowedBinaries []string) *Engine {
	e := &Engine{}
	for _, name := range allowedBinaries {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if e.allowedBinaries == nil {
			e.allowedBinaries = make(map[string]bool)
		}
		e.allowedBinaries[name] = true
	}
	return e
}

// Evaluate decides whether argv may run under the given profile.
func (e *Engine) Evaluate(argv []string, policyProfile string) Decision {
	profile := NormalizeProfile(policyProfile)
	if len(argv) == 0 {
		return Decision{Allowed: false, RiskTier: RiskHigh, Reason: "Empty command."}
	}

	command := strings.TrimSpace(argv[0])
	if command == "" {
		return Decision{Allowed: false, RiskTier: RiskHigh, Reason: "Invalid command."}
	}

	tier := riskTier(argv)
	if profile != ProfileTrusted && e.allowedBinaries != nil && !e.allowedBinaries[filepath.Base(command)] {
		return Decision{
			Allowed:  false,
			RiskTier: RiskHigh,
			Reason:   fmt.Sprintf("Command '%s' is not allowed in '%s' profile.", command, profile),
		}
	}
	if profile == ProfileStrict && tier != RiskLow {
		return Decision{
			Allowed:  false,
			RiskTier: tier,
			Reason:   fmt.Sprintf("Risk tier '%s' denied by strict profile.", tier),
		}
	}
	if profile == ProfileBalanced && tier == RiskHigh {
		return Decision{
			Allowed:  false,
			RiskTier: tier,
			Reason:   "High-risk command denied by balanced profile.",
		}
	}
	return Decision{Allowed: true, RiskTier: tier, Reason: "Allowed."}
}

// NormalizeProfile maps unknown or empty profiles to balanced.
func NormalizeProfile(policyProfile string) string {
	normalized := strings.ToLower(strings.TrimSpace(policyProfile))
	switch normalized {
	case ProfileStrict, ProfileBalanced, ProfileTrusted:
		return normalized
	default:
		return ProfileBalanced
	}
}

func riskTier(argv []string) string {
	for _, token := range argv {
		if highRiskFlags[token] {
			return RiskHigh
		}
	}
	for _, token := range argv {
		if mediumRiskFlags[token] {
			return RiskMedium
		}
	}
	return RiskLow
}
