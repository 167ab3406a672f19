// Package policy implements the permission decision engine: the
// security policy, the capability evaluation algorithm, and an
// optional Rego overlay that can tighten its decisions.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mackeh/WardClaw/internal/capability"
	"github.com/mackeh/WardClaw/internal/grants"
	"github.com/mackeh/WardClaw/internal/patterns"
	"github.com/mackeh/WardClaw/internal/registry"
	"github.com/mackeh/WardClaw/internal/system"
)

// SecurityPolicy holds the live-updatable knobs of the engine.
type SecurityPolicy struct {
	AutoApproveSafe           bool     `json:"auto_approve_safe" yaml:"auto_approve_safe"`
	AutoApproveModerate       bool     `json:"auto_approve_moderate" yaml:"auto_approve_moderate"`
	NeverAutoApproveDangerous bool     `json:"never_auto_approve_dangerous" yaml:"never_auto_approve_dangerous"`
	AllowedPaths              []string `json:"allowed_paths" yaml:"allowed_paths"`
	BlockedPaths              []string `json:"blocked_paths" yaml:"blocked_paths"`
	BlockedCommands           []string `json:"blocked_commands" yaml:"blocked_commands"`
}

// Default returns the out-of-the-box policy: safe operations
// auto-approve, everything else asks, dangerous never auto-approves.
func Default() SecurityPolicy {
	return SecurityPolicy{
		AutoApproveSafe:           true,
		AutoApproveModerate:       false,
		NeverAutoApproveDangerous: true,
		AllowedPaths:              []string{"./workspace/*", "./data/*"},
		BlockedPaths:              append([]string(nil), patterns.DefaultBlockedPaths...),
		BlockedCommands:           append([]string(nil), patterns.DefaultBlockedCommands...),
	}
}

// CanAutoApprove reports whether an action of the given risk may
// proceed without a human. Dangerous and destructive share the
// NeverAutoApproveDangerous gate.
func (p SecurityPolicy) CanAutoApprove(r capability.Risk) bool {
	switch r {
	case capability.RiskSafe:
		return p.AutoApproveSafe
	case capability.RiskModerate:
		return p.AutoApproveModerate
	default:
		return !p.NeverAutoApproveDangerous
	}
}

func (p SecurityPolicy) clone() SecurityPolicy {
	p.AllowedPaths = append([]string(nil), p.AllowedPaths...)
	p.BlockedPaths = append([]string(nil), p.BlockedPaths...)
	p.BlockedCommands = append([]string(nil), p.BlockedCommands...)
	return p
}

// Patch is a partial policy update; nil fields are left unchanged.
type Patch struct {
	AutoApproveSafe           *bool    `json:"auto_approve_safe,omitempty"`
	AutoApproveModerate       *bool    `json:"auto_approve_moderate,omitempty"`
	NeverAutoApproveDangerous *bool    `json:"never_auto_approve_dangerous,omitempty"`
	AllowedPaths              []string `json:"allowed_paths,omitempty"`
	BlockedPaths              []string `json:"blocked_paths,omitempty"`
	BlockedCommands           []string `json:"blocked_commands,omitempty"`
}

// Result is the decision for one tool call. Denials are data, never
// errors: Allowed false with RequiresApproval true means "only with
// approval", with RequiresApproval false it is a hard block.
type Result struct {
	Allowed          bool            `json:"allowed"`
	RequiresApproval bool            `json:"requires_approval"`
	Risk             capability.Risk `json:"risk"`
	Reason           string          `json:"reason,omitempty"`
}

// Engine evaluates tool calls against the registry, the deny-lists,
// the grant store, and the live policy.
type Engine struct {
	registry *registry.Registry
	grants   *grants.Store
	matcher  *patterns.Matcher

	mu      sync.RWMutex
	policy  SecurityPolicy
	overlay *Overlay
}

// NewEngine builds an engine around a registry and grant store.
func NewEngine(reg *registry.Registry, store *grants.Store, pol SecurityPolicy) *Engine {
	return &Engine{
		registry: reg,
		grants:   store,
		matcher:  patterns.NewMatcher(pol.BlockedPaths, pol.BlockedCommands),
		policy:   pol.clone(),
	}
}

// Registry exposes the underlying tool registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Grants exposes the underlying grant store.
func (e *Engine) Grants() *grants.Store { return e.grants }

// Matcher exposes the deny-list matcher (read paths for doctor and
// posture; mutation goes through the policy surface).
func (e *Engine) Matcher() *patterns.Matcher { return e.matcher }

// Policy returns a copy of the current policy.
func (e *Engine) Policy() SecurityPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.clone()
}

// UpdatePolicy applies a partial update and refreshes the compiled
// deny-lists. It returns the resulting policy.
func (e *Engine) UpdatePolicy(patch Patch) SecurityPolicy {
	e.mu.Lock()
	if patch.AutoApproveSafe != nil {
		e.policy.AutoApproveSafe = *patch.AutoApproveSafe
	}
	if patch.AutoApproveModerate != nil {
		e.policy.AutoApproveModerate = *patch.AutoApproveModerate
	}
	if patch.NeverAutoApproveDangerous != nil {
		e.policy.NeverAutoApproveDangerous = *patch.NeverAutoApproveDangerous
	}
	if patch.AllowedPaths != nil {
		e.policy.AllowedPaths = append([]string(nil), patch.AllowedPaths...)
	}
	if patch.BlockedPaths != nil {
		e.policy.BlockedPaths = append([]string(nil), patch.BlockedPaths...)
		e.matcher.SetBlockedPaths(e.policy.BlockedPaths)
	}
	if patch.BlockedCommands != nil {
		e.policy.BlockedCommands = append([]string(nil), patch.BlockedCommands...)
		e.matcher.SetBlockedCommands(e.policy.BlockedCommands)
	}
	updated := e.policy.clone()
	e.mu.Unlock()
	return updated
}

// AddAllowedPath appends one allowed-path glob.
func (e *Engine) AddAllowedPath(glob string) {
	e.mu.Lock()
	e.policy.AllowedPaths = append(e.policy.AllowedPaths, glob)
	e.mu.Unlock()
}

// AddBlockedPath appends one blocked-path glob and recompiles.
func (e *Engine) AddBlockedPath(glob string) {
	e.mu.Lock()
	e.policy.BlockedPaths = append(e.policy.BlockedPaths, glob)
	blocked := append([]string(nil), e.policy.BlockedPaths...)
	e.mu.Unlock()
	e.matcher.SetBlockedPaths(blocked)
}

// AddBlockedCommand appends one blocked-command regex and recompiles.
func (e *Engine) AddBlockedCommand(expr string) {
	e.mu.Lock()
	e.policy.BlockedCommands = append(e.policy.BlockedCommands, expr)
	blocked := append([]string(nil), e.policy.BlockedCommands...)
	e.mu.Unlock()
	e.matcher.SetBlockedCommands(blocked)
}

// SetOverlay installs (or clears, with nil) the Rego overlay.
func (e *Engine) SetOverlay(o *Overlay) {
	e.mu.Lock()
	e.overlay = o
	e.mu.Unlock()
}

// Check decides whether a tool call may proceed. The walk is
// fail-closed at every step: lockdown denies everything, unregistered
// tools escalate to a human, deny-list hits block outright and
// override any grant, and only then do the auto-approval gates apply.
func (e *Engine) Check(ctx context.Context, toolName string, args map[string]any, principal string) Result {
	if system.IsLockedDown() {
		return Result{
			Allowed: false,
			Risk:    capability.RiskDestructive,
			Reason:  "emergency lockdown is active; all actions are blocked by security policy",
		}
	}

	perm, ok := e.registry.Lookup(toolName)
	if !ok {
		return Result{
			Allowed:          false,
			RequiresApproval: true,
			Risk:             capability.RiskDangerous,
			Reason:           fmt.Sprintf("unknown tool %q", toolName),
		}
	}

	pol := e.Policy()

	for _, c := range perm.Capabilities {
		// Deny-lists override grants: a standing grant must never
		// smuggle a call past a blocked path or command.
		if capability.IsFilesystem(c.Category) {
			if path, found := patterns.ExtractPath(args); found && e.matcher.IsBlockedPath(path) {
				return Result{
					Allowed: false,
					Risk:    capability.RiskDestructive,
					Reason:  fmt.Sprintf("path %q is blocked by security policy", path),
				}
			}
		}
		if capability.IsTerminal(c.Category) {
			if cmd, found := patterns.ExtractCommand(args); found && e.matcher.IsBlockedCommand(cmd) {
				return Result{
					Allowed: false,
					Risk:    capability.RiskDestructive,
					Reason:  fmt.Sprintf("command %q is blocked by security policy", cmd),
				}
			}
		}
	}

	maxRisk := perm.EffectiveRisk()

	result := Result{Allowed: true, Risk: maxRisk}
	switch {
	case perm.AlwaysRequireApproval:
		result.RequiresApproval = true
		result.Reason = fmt.Sprintf("%s always requires approval", toolName)
	case !pol.CanAutoApprove(maxRisk):
		result.RequiresApproval = true
		result.Reason = fmt.Sprintf("%s risk actions require approval", maxRisk)
	}

	return e.applyOverlay(ctx, toolName, perm, principal, result)
}

// applyOverlay lets a loaded Rego module tighten the built-in verdict.
// It can force a denial or an approval requirement, never relax one;
// evaluation failures fail toward requiring approval.
func (e *Engine) applyOverlay(ctx context.Context, toolName string, perm capability.ToolPermission, principal string, result Result) Result {
	e.mu.RLock()
	overlay := e.overlay
	e.mu.RUnlock()
	if overlay == nil || !result.Allowed {
		return result
	}

	decision, err := overlay.Evaluate(ctx, OverlayInput{
		Tool:             toolName,
		Capabilities:     capability.Names(perm.Capabilities),
		Risk:             result.Risk.String(),
		RequiresApproval: result.RequiresApproval,
		Principal:        principal,
	})
	if err != nil {
		slog.Warn("policy overlay evaluation failed, requiring approval", "tool", toolName, "error", err)
		result.RequiresApproval = true
		if result.Reason == "" {
			result.Reason = "policy overlay unavailable; this action requires approval"
		}
		return result
	}

	switch decision {
	case Deny:
		return Result{
			Allowed: false,
			Risk:    result.Risk,
			Reason:  fmt.Sprintf("%s is blocked by policy overlay", toolName),
		}
	case RequireApproval:
		if !result.RequiresApproval {
			result.RequiresApproval = true
			result.Reason = "this action requires approval by policy overlay"
		}
	}
	return result
}

// GrantsCover reports whether standing grants cover every declared
// capability of the tool. The approval flow treats full coverage as a
// prior user approval and skips the prompt.
func (e *Engine) GrantsCover(perm capability.ToolPermission, principal string) bool {
	for _, c := range perm.Capabilities {
		if !e.grants.HasGrant(c.Category, c.Scope, principal) {
			return false
		}
	}
	return len(perm.Capabilities) > 0
}
