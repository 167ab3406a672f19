// Package simulate provides dry-run permission analysis. It answers
// "what would happen if the agent called this tool with these args"
// without executing anything, prompting anyone, or writing an audit
// entry.
package simulate

import (
	"context"
	"fmt"

	"github.com/mackeh/WardClaw/internal/capability"
	"github.com/mackeh/WardClaw/internal/patterns"
	"github.com/mackeh/WardClaw/internal/policy"
	"github.com/mackeh/WardClaw/internal/system"
)

// Decision labels mirror the engine's three outcomes.
const (
	DecisionAllow           = "allow"
	DecisionRequireApproval = "require_approval"
	DecisionDeny            = "deny"
)

// Report holds the results of a dry-run.
type Report struct {
	ToolName     string               `json:"tool_name"`
	Known        bool                 `json:"known"`
	Risk         string               `json:"risk"`
	Capabilities []CapabilityAnalysis `json:"capabilities,omitempty"`
	Decision     string               `json:"decision"`
	RuleFired    string               `json:"rule_fired"`
	Reason       string               `json:"reason,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// CapabilityAnalysis describes how one declared capability fares
// against the deny-lists and the grant store.
type CapabilityAnalysis struct {
	Category     string `json:"category"`
	Scope        string `json:"scope,omitempty"`
	Risk         string `json:"risk"`
	Argument     string `json:"argument,omitempty"` // the path or command examined
	DenyListHit  string `json:"deny_list_hit,omitempty"`
	GrantCovered bool   `json:"grant_covered"`
}

// Run analyses a prospective tool call against the engine. The
// returned report names the rule that decides the call, in evaluation
// order: lockdown, registry, deny-lists, approval gates, overlay.
func Run(ctx context.Context, engine *policy.Engine, principal, toolName string, args map[string]any) *Report {
	report := &Report{ToolName: toolName}

	if locked, _, reason := system.Status(); locked {
		report.Decision = DecisionDeny
		report.RuleFired = "emergency-lockdown"
		report.Risk = capability.RiskDestructive.String()
		report.Reason = fmt.Sprintf("lockdown active: %s", reason)
		return report
	}

	perm, known := engine.Registry().Lookup(toolName)
	report.Known = known
	if !known {
		report.Decision = DecisionRequireApproval
		report.RuleFired = "unknown-tool"
		report.Risk = capability.RiskDangerous.String()
		report.Reason = "tool is not registered; treated as dangerous and escalated"
		report.Warnings = append(report.Warnings, "register the tool to get a capability-based decision")
		return report
	}

	report.Risk = perm.EffectiveRisk().String()

	// Per-capability walk, in the engine's order.
	denyRule := ""
	covered := len(perm.Capabilities) > 0
	for _, c := range perm.Capabilities {
		analysis := CapabilityAnalysis{
			Category: c.Category,
			Scope:    c.Scope,
			Risk:     c.Risk.String(),
		}

		if capability.IsFilesystem(c.Category) {
			if path, found := patterns.ExtractPath(args); found {
				analysis.Argument = path
				if pat, hit := engine.Matcher().MatchBlockedPath(path); hit {
					analysis.DenyListHit = pat
					if denyRule == "" {
						denyRule = fmt.Sprintf("blocked-path %q", pat)
					}
				}
			}
		}
		if capability.IsTerminal(c.Category) {
			if cmd, found := patterns.ExtractCommand(args); found {
				analysis.Argument = cmd
				if pat, hit := engine.Matcher().MatchBlockedCommand(cmd); hit {
					analysis.DenyListHit = pat
					if denyRule == "" {
						denyRule = fmt.Sprintf("blocked-command %q", pat)
					}
				}
			}
		}

		analysis.GrantCovered = engine.Grants().HasGrant(c.Category, c.Scope, principal)
		if !analysis.GrantCovered {
			covered = false
		}

		report.Capabilities = append(report.Capabilities, analysis)
	}

	// The engine's verdict is authoritative; it includes the overlay.
	result := engine.Check(ctx, toolName, args, principal)
	report.Reason = result.Reason

	switch {
	case !result.Allowed && !result.RequiresApproval:
		report.Decision = DecisionDeny
		if denyRule != "" {
			report.RuleFired = denyRule
			report.Warnings = append(report.Warnings, "deny-list hits override standing grants")
		} else {
			report.RuleFired = "policy-overlay"
		}

	case result.RequiresApproval:
		report.Decision = DecisionRequireApproval
		report.RuleFired = approvalRule(engine, perm)
		if covered {
			report.Warnings = append(report.Warnings, "standing grants cover every capability; the prompt would be skipped")
		}

	default:
		report.Decision = DecisionAllow
		report.RuleFired = fmt.Sprintf("auto-approve (%s)", perm.EffectiveRisk())
	}

	return report
}

// approvalRule names the gate that forces the prompt.
func approvalRule(engine *policy.Engine, perm capability.ToolPermission) string {
	if perm.AlwaysRequireApproval {
		return "manifest always_require_approval"
	}
	pol := engine.Policy()
	risk := perm.EffectiveRisk()
	if !pol.CanAutoApprove(risk) {
		return fmt.Sprintf("risk-gate (%s)", risk)
	}
	// The built-in gates would have allowed it, so the overlay fired.
	return "policy-overlay"
}
