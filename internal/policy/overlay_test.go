package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mackeh/WardClaw/internal/grants"
)

func TestOverlayEvaluate(t *testing.T) {
	overlayRego := `
package wardclaw.policy
import rego.v1

default decision = "allow"

decision = "deny" if {
	input.tool == "fetch_url"
}

decision = "require_approval" if {
	input.risk == "dangerous"
}
`
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, overlayRego)
	if err != nil {
		t.Fatalf("Failed to create overlay: %v", err)
	}

	tests := []struct {
		name  string
		input OverlayInput
		want  Decision
	}{
		{"no opinion", OverlayInput{Tool: "read_file", Risk: "safe"}, Allow},
		{"denied tool", OverlayInput{Tool: "fetch_url", Risk: "moderate"}, Deny},
		{"risk rule", OverlayInput{Tool: "run_command", Risk: "dangerous"}, RequireApproval},
	}

	for _, tt := range tests {
		got, err := overlay.Evaluate(ctx, tt.input)
		if err != nil {
			t.Errorf("Evaluate(%s) error = %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOverlayUndefinedDecisionFailsSecure(t *testing.T) {
	overlayRego := `
package wardclaw.policy
import rego.v1

decision = "allow" if {
	input.tool == "something_else"
}
`
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, overlayRego)
	if err != nil {
		t.Fatalf("Failed to create overlay: %v", err)
	}

	got, err := overlay.Evaluate(ctx, OverlayInput{Tool: "read_file", Risk: "safe"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != RequireApproval {
		t.Errorf("Evaluate() = %v, want %v for an undefined decision", got, RequireApproval)
	}
}

func TestEngineOverlayDenies(t *testing.T) {
	overlayRego := `
package wardclaw.policy
import rego.v1

default decision = "allow"

decision = "deny" if {
	input.tool == "fetch_url"
}
`
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, overlayRego)
	if err != nil {
		t.Fatalf("Failed to create overlay: %v", err)
	}

	e := newTestEngine(t)
	e.SetOverlay(overlay)

	got := e.Check(ctx, "fetch_url", map[string]any{"url": "https://example.com"}, grants.DefaultPrincipal)
	if got.Allowed || got.RequiresApproval {
		t.Errorf("got %+v, want hard denial from overlay", got)
	}
	if !strings.Contains(got.Reason, "policy overlay") {
		t.Errorf("Reason = %q, want mention of policy overlay", got.Reason)
	}
}

func TestEngineOverlayForcesApproval(t *testing.T) {
	overlayRego := `
package wardclaw.policy
import rego.v1

default decision = "allow"

decision = "require_approval" if {
	input.tool == "read_file"
}
`
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, overlayRego)
	if err != nil {
		t.Fatalf("Failed to create overlay: %v", err)
	}

	e := newTestEngine(t)
	e.SetOverlay(overlay)

	got := e.Check(ctx, "read_file", nil, grants.DefaultPrincipal)
	if !got.Allowed || !got.RequiresApproval {
		t.Errorf("got %+v, want auto-approval revoked by overlay", got)
	}
}

func TestEngineOverlayCannotRelax(t *testing.T) {
	overlayRego := `
package wardclaw.policy
import rego.v1

default decision = "allow"
`
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, overlayRego)
	if err != nil {
		t.Fatalf("Failed to create overlay: %v", err)
	}

	e := newTestEngine(t)
	e.SetOverlay(overlay)

	got := e.Check(ctx, "write_file", map[string]any{"path": "./workspace/a.txt"}, grants.DefaultPrincipal)
	if !got.RequiresApproval {
		t.Errorf("got %+v, an allow overlay must not lift the approval requirement", got)
	}

	got = e.Check(ctx, "write_file", map[string]any{"path": "/etc/passwd"}, grants.DefaultPrincipal)
	if got.Allowed {
		t.Errorf("got %+v, an allow overlay must not lift a deny-list block", got)
	}
}

func TestEngineOverlayErrorFailsSecure(t *testing.T) {
	// Two complete rules that both fire with different values make
	// evaluation fail with a conflict.
	overlayRego := `
package wardclaw.policy
import rego.v1

decision = "allow" if { true }

decision = "deny" if {
	input.tool == "read_file"
}
`
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, overlayRego)
	if err != nil {
		t.Fatalf("Failed to create overlay: %v", err)
	}

	e := newTestEngine(t)
	e.SetOverlay(overlay)

	got := e.Check(ctx, "read_file", nil, grants.DefaultPrincipal)
	if !got.Allowed || !got.RequiresApproval {
		t.Errorf("got %+v, want approval required when the overlay errors", got)
	}
}

func TestDefaultOverlayRego(t *testing.T) {
	ctx := context.Background()
	overlay, err := NewOverlay(ctx, DefaultOverlayRego)
	if err != nil {
		t.Fatalf("Failed to create default overlay: %v", err)
	}

	tests := []struct {
		name  string
		input OverlayInput
		want  Decision
	}{
		{"unattended destructive", OverlayInput{Tool: "wipe", Risk: "destructive", RequiresApproval: false}, Deny},
		{"attended destructive", OverlayInput{Tool: "wipe", Risk: "destructive", RequiresApproval: true}, Allow},
		{"ordinary call", OverlayInput{Tool: "read_file", Risk: "safe", RequiresApproval: false}, Allow},
	}

	for _, tt := range tests {
		got, err := overlay.Evaluate(ctx, tt.input)
		if err != nil {
			t.Errorf("Evaluate(%s) error = %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Evaluate(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLoadOverlay(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "policy.rego")
	if err := os.WriteFile(path, []byte(DefaultOverlayRego), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOverlay(ctx, path); err != nil {
		t.Fatalf("LoadOverlay() error = %v", err)
	}

	if _, err := LoadOverlay(ctx, filepath.Join(dir, "missing.rego")); err == nil {
		t.Error("LoadOverlay() on a missing file should fail")
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
	}{
		{"allow", Allow},
		{"deny", Deny},
		{"require_approval", RequireApproval},
		{"garbage", RequireApproval},
	}
	for _, tt := range tests {
		if got := parseDecision(tt.in); got != tt.want {
			t.Errorf("parseDecision(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
