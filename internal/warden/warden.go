// Package warden assembles the decision pipeline: tool registry,
// policy engine, grant store, audit log, event dispatcher, and the
// approval coordinator behind one Manager.
package warden

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mackeh/WardClaw/internal/approval"
	"github.com/mackeh/WardClaw/internal/audit"
	"github.com/mackeh/WardClaw/internal/capability"
	"github.com/mackeh/WardClaw/internal/config"
	"github.com/mackeh/WardClaw/internal/grants"
	"github.com/mackeh/WardClaw/internal/notifications"
	"github.com/mackeh/WardClaw/internal/policy"
	"github.com/mackeh/WardClaw/internal/registry"
	"github.com/mackeh/WardClaw/internal/security/redactor"
	"github.com/mackeh/WardClaw/internal/system"
	"github.com/mackeh/WardClaw/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// alwaysGrantTTL bounds grants created by an "always allow" answer.
const alwaysGrantTTL = 30 * 24 * time.Hour

// Options configures a Manager. The zero value runs fully in memory.
type Options struct {
	// DataDir holds audit and grant state under <DataDir>/security.
	// Empty means in-memory only.
	DataDir string
	// Policy overrides the default security policy.
	Policy *policy.SecurityPolicy
	// Principal attributes grants and audit entries. Defaults to
	// "default".
	Principal string
	// Notifiers configures outbound event transports.
	Notifiers []notifications.NotifierConfig
	// ManifestDir, when set, is scanned for tool manifests at startup.
	ManifestDir string
}

// Manager is the single entry point agents call before running tools.
type Manager struct {
	registry  *registry.Registry
	engine    *policy.Engine
	grants    *grants.Store
	audit     *audit.Log
	events    *notifications.Dispatcher
	approvals *approval.Coordinator
	redact    *redactor.Redactor
	principal string
	tracer    trace.Tracer
}

// New builds a Manager from options.
func New(opts Options) (*Manager, error) {
	reg := registry.New()
	if opts.ManifestDir != "" {
		n, err := reg.LoadManifests(opts.ManifestDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load tool manifests: %w", err)
		}
		if n > 0 {
			slog.Info("loaded tool manifests", "dir", opts.ManifestDir, "count", n)
		}
	}

	var auditPath, grantsPath string
	if opts.DataDir != "" {
		auditPath = filepath.Join(opts.DataDir, "security", "audit.json")
		grantsPath = filepath.Join(opts.DataDir, "security", "grants.json")
	}

	red := redactor.New()
	store := grants.NewStore(grantsPath)

	pol := policy.Default()
	if opts.Policy != nil {
		pol = *opts.Policy
	}

	principal := opts.Principal
	if principal == "" {
		principal = grants.DefaultPrincipal
	}

	events := notifications.NewDispatcher(opts.Notifiers)

	m := &Manager{
		registry:  reg,
		engine:    policy.NewEngine(reg, store, pol),
		grants:    store,
		audit:     audit.NewLog(auditPath, audit.WithRedactor(red)),
		events:    events,
		approvals: approval.NewCoordinator(events),
		redact:    red,
		principal: principal,
		tracer:    telemetry.Tracer(),
	}
	return m, nil
}

// NewFromConfig builds a Manager from a loaded configuration.
func NewFromConfig(cfg *config.Config) (*Manager, error) {
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}
	manifestDir, err := cfg.ResolveManifestDir()
	if err != nil {
		return nil, err
	}
	pol := cfg.Policy
	return New(Options{
		DataDir:     dataDir,
		Policy:      &pol,
		Principal:   cfg.Principal,
		Notifiers:   cfg.Notifications,
		ManifestDir: manifestDir,
	})
}

// RegisterTool declares a tool's capability envelope. Re-registering
// a name overwrites the previous permission.
func (m *Manager) RegisterTool(tp capability.ToolPermission) error {
	return m.registry.Register(tp)
}

// SetApprovalHandler installs the single approval handler.
func (m *Manager) SetApprovalHandler(h approval.Approver) {
	m.approvals.SetHandler(h)
}

// Check evaluates a tool call without executing the approval flow.
func (m *Manager) Check(ctx context.Context, toolName string, args map[string]any) policy.Result {
	result := m.engine.Check(ctx, toolName, args, m.principal)

	decision := "allowed"
	switch {
	case !result.Allowed && !result.RequiresApproval:
		decision = "denied"
	case result.RequiresApproval:
		decision = "requires_approval"
	}
	telemetry.PermissionChecksTotal.WithLabelValues(decision).Inc()

	return result
}

// RequestApproval runs one approval round-trip for a checked call. An
// "always" answer installs standing grants for the tool's
// capabilities before returning.
func (m *Manager) RequestApproval(ctx context.Context, toolName string, args map[string]any, result policy.Result) (approval.Verdict, error) {
	var names []string
	perm, known := m.registry.Lookup(toolName)
	if known {
		names = capability.Names(perm.Capabilities)
	}

	verdict, err := m.approvals.Request(ctx, approval.Request{
		ToolName:        toolName,
		Capabilities:    names,
		Args:            m.redact.SanitizeArgs(args),
		Risk:            result.Risk,
		RiskDescription: result.Risk.Description(),
		Reason:          result.Reason,
		Principal:       m.principal,
	})
	if err != nil {
		telemetry.ApprovalRequestsTotal.WithLabelValues("failed").Inc()
		return verdict, err
	}

	if verdict == approval.VerdictAlways && known {
		for _, c := range perm.Capabilities {
			m.grants.Grant(c.Category, c.Scope, grants.Options{
				Duration:  alwaysGrantTTL,
				Principal: m.principal,
				GrantedBy: grants.GrantedByUser,
			})
		}
	}

	outcome := "denied"
	if verdict.Approved() {
		outcome = "approved"
	}
	telemetry.ApprovalRequestsTotal.WithLabelValues(outcome).Inc()
	return verdict, nil
}

// LogExecution records one execution attempt and returns the entry.
func (m *Manager) LogExecution(toolName string, args map[string]any, result audit.Result, source audit.Source) audit.Entry {
	var caps []capability.Capability
	if perm, ok := m.registry.Lookup(toolName); ok {
		caps = perm.Capabilities
	}
	entry := m.audit.LogExecution(toolName, caps, args, result, source, m.principal)

	m.events.Notify(context.Background(), notifications.Payload{
		Event:    notifications.EventAuditLogged,
		Tool:     toolName,
		Decision: string(result),
	})
	return entry
}

// Authorize is the full gate: check, consult grants, prompt if needed,
// and write exactly one audit entry. The returned result is final;
// Allowed true means the call may run now.
func (m *Manager) Authorize(ctx context.Context, toolName string, args map[string]any) (policy.Result, error) {
	ctx, span := m.tracer.Start(ctx, "warden.Authorize")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("principal", m.principal),
	)

	result := m.Check(ctx, toolName, args)
	span.SetAttributes(attribute.String("risk", result.Risk.String()))

	switch {
	case result.Allowed && !result.RequiresApproval:
		m.LogExecution(toolName, args, audit.ResultAutoApproved, audit.SourceAuto)
		span.SetAttributes(attribute.String("decision", "auto-approved"))
		return result, nil

	case !result.Allowed && !result.RequiresApproval:
		// Hard denial: deny-listed, locked down, or overlay-blocked.
		m.LogExecution(toolName, args, audit.ResultDenied, audit.SourcePolicy)
		m.notifyDenied(ctx, toolName, result)
		span.SetAttributes(attribute.String("decision", "denied"))
		return result, nil
	}

	// Approval required. Standing grants covering every declared
	// capability stand in for the prompt.
	if perm, known := m.registry.Lookup(toolName); known && m.engine.GrantsCover(perm, m.principal) {
		m.LogExecution(toolName, args, audit.ResultApproved, audit.SourceUser)
		span.SetAttributes(attribute.String("decision", "granted"))
		result.Allowed = true
		result.RequiresApproval = false
		result.Reason = "covered by standing grant"
		return result, nil
	}

	hadHandler := m.approvals.HasHandler()
	verdict, err := m.RequestApproval(ctx, toolName, args, result)
	if err != nil {
		m.LogExecution(toolName, args, audit.ResultDenied, audit.SourcePolicy)
		final := policy.Result{Risk: result.Risk, Reason: "approval handler failed"}
		m.notifyDenied(ctx, toolName, final)
		span.SetAttributes(attribute.String("decision", "denied"))
		return final, err
	}

	if !verdict.Approved() {
		source := audit.SourceUser
		reason := "denied by user"
		if !hadHandler {
			source = audit.SourcePolicy
			reason = "no approval handler installed"
		}
		m.LogExecution(toolName, args, audit.ResultDenied, source)
		final := policy.Result{Risk: result.Risk, Reason: reason}
		m.notifyDenied(ctx, toolName, final)
		span.SetAttributes(attribute.String("decision", "denied"))
		return final, nil
	}

	m.LogExecution(toolName, args, audit.ResultApproved, audit.SourceUser)
	span.SetAttributes(attribute.String("decision", "approved"))
	result.Allowed = true
	result.RequiresApproval = false
	result.Reason = "approved by user"
	return result, nil
}

func (m *Manager) notifyDenied(ctx context.Context, toolName string, result policy.Result) {
	m.events.Notify(ctx, notifications.Payload{
		Event:     notifications.EventActionDenied,
		Tool:      toolName,
		Risk:      result.Risk.String(),
		Decision:  "denied",
		Reason:    result.Reason,
		Principal: m.principal,
	})
}

// Policy returns a copy of the live policy.
func (m *Manager) Policy() policy.SecurityPolicy {
	return m.engine.Policy()
}

// UpdatePolicy applies a partial policy update.
func (m *Manager) UpdatePolicy(patch policy.Patch) policy.SecurityPolicy {
	updated := m.engine.UpdatePolicy(patch)
	m.notifyPolicyUpdated()
	return updated
}

// AddAllowedPath appends one allowed-path glob.
func (m *Manager) AddAllowedPath(glob string) {
	m.engine.AddAllowedPath(glob)
	m.notifyPolicyUpdated()
}

// AddBlockedPath appends one blocked-path glob.
func (m *Manager) AddBlockedPath(glob string) {
	m.engine.AddBlockedPath(glob)
	m.notifyPolicyUpdated()
}

// AddBlockedCommand appends one blocked-command pattern.
func (m *Manager) AddBlockedCommand(expr string) {
	m.engine.AddBlockedCommand(expr)
	m.notifyPolicyUpdated()
}

func (m *Manager) notifyPolicyUpdated() {
	m.events.Notify(context.Background(), notifications.Payload{
		Event: notifications.EventPolicyUpdated,
	})
}

// Lockdown blocks every action until Unlock.
func (m *Manager) Lockdown(reason string) {
	system.Lockdown(reason)
	slog.Warn("emergency lockdown engaged", "reason", reason)
	m.events.Notify(context.Background(), notifications.Payload{
		Event:  notifications.EventLockdownEngaged,
		Reason: reason,
	})
}

// Unlock lifts an active lockdown.
func (m *Manager) Unlock() {
	system.Unlock()
	slog.Info("lockdown released")
	m.events.Notify(context.Background(), notifications.Payload{
		Event: notifications.EventLockdownReleased,
	})
}

// SetOverlay installs a Rego overlay on the policy engine.
func (m *Manager) SetOverlay(o *policy.Overlay) {
	m.engine.SetOverlay(o)
}

// Registry exposes the tool registry.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Engine exposes the policy engine for read-only evaluation.
func (m *Manager) Engine() *policy.Engine { return m.engine }

// Grants exposes the grant store.
func (m *Manager) Grants() *grants.Store { return m.grants }

// Audit exposes the audit log.
func (m *Manager) Audit() *audit.Log { return m.audit }

// Events exposes the event dispatcher for extra observers.
func (m *Manager) Events() *notifications.Dispatcher { return m.events }

// Approvals exposes the approval coordinator.
func (m *Manager) Approvals() *approval.Coordinator { return m.approvals }

// Redactor exposes the arg sanitizer so secret values can be
// registered for redaction.
func (m *Manager) Redactor() *redactor.Redactor { return m.redact }

// Principal returns the principal this manager acts for.
func (m *Manager) Principal() string { return m.principal }

// Close flushes the audit log and drains notification queues.
func (m *Manager) Close() error {
	err := m.audit.Close()
	m.events.Close()
	return err
}
