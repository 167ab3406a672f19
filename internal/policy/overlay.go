package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the verdict of the Rego overlay.
type Decision int

const (
	Allow Decision = iota
	Deny
	RequireApproval
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RequireApproval:
		return "require_approval"
	default:
		return "unknown"
	}
}

// DefaultOverlayRego is the overlay written by `wardclaw init`. It has
// no opinion on most calls and acts only as a backstop: a destructive
// action that would otherwise run unattended is denied.
const DefaultOverlayRego = `package wardclaw.policy

import rego.v1

# Backstop overlay: stay out of the way unless something destructive
# is about to run without a human in the loop.
default decision = "allow"

decision = "deny" if {
	input.risk == "destructive"
	not input.requires_approval
}
`

// OverlayInput is the document handed to the Rego query.
type OverlayInput struct {
	Tool             string
	Capabilities     []string
	Risk             string
	RequiresApproval bool
	Principal        string
}

// Overlay wraps a prepared Rego query over a single policy module.
// It can only tighten the engine's built-in verdict, never relax it.
type Overlay struct {
	query rego.PreparedEvalQuery
}

// NewOverlay compiles a Rego module and prepares the decision query.
func NewOverlay(ctx context.Context, content string) (*Overlay, error) {
	r := rego.New(
		rego.Query("data.wardclaw.policy.decision"),
		rego.Module("policy.rego", content),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego query: %w", err)
	}

	return &Overlay{query: query}, nil
}

// LoadOverlay loads an overlay from the specified path (rego file).
func LoadOverlay(ctx context.Context, path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewOverlay(ctx, string(data))
}

// LoadDefaultOverlay loads policy.rego from the config directory,
// falling back to the built-in backstop when no file exists.
func LoadDefaultOverlay(ctx context.Context) (*Overlay, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".wardclaw", "policy.rego")
	if _, err := os.Stat(path); err == nil {
		return LoadOverlay(ctx, path)
	}
	return NewOverlay(ctx, DefaultOverlayRego)
}

// Evaluate runs the overlay against one tool call. An undefined
// decision falls back to requiring approval; evaluation errors are
// returned so the caller can log them, also as require-approval.
func (o *Overlay) Evaluate(ctx context.Context, input OverlayInput) (Decision, error) {
	results, err := o.query.Eval(ctx, rego.EvalInput(map[string]any{
		"tool":              input.Tool,
		"capabilities":      input.Capabilities,
		"risk":              input.Risk,
		"requires_approval": input.RequiresApproval,
		"principal":         input.Principal,
	}))
	if err != nil {
		return RequireApproval, err
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// No decision matched, return safe default
		return RequireApproval, nil
	}

	decisionStr, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return RequireApproval, fmt.Errorf("policy returned non-string decision")
	}

	return parseDecision(decisionStr), nil
}

func parseDecision(s string) Decision {
	switch s {
	case "allow":
		return Allow
	case "deny":
		return Deny
	case "require_approval":
		return RequireApproval
	default:
		return RequireApproval // Safe default
	}
}
