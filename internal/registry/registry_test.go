package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mackeh/WardClaw/internal/capability"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()

	perm := capability.ToolPermission{
		ToolName:     "read_file",
		Capabilities: []capability.Capability{capability.FileRead},
	}
	if err := r.Register(perm); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Lookup("read_file")
	if !ok {
		t.Fatal("registered tool not found")
	}
	if got.ToolName != "read_file" || len(got.Capabilities) != 1 {
		t.Errorf("Lookup = %+v", got)
	}

	if _, ok := r.Lookup("write_file"); ok {
		t.Error("unregistered tool should not be found")
	}
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()

	first := capability.ToolPermission{
		ToolName:     "edit_file",
		Capabilities: []capability.Capability{capability.FileRead},
	}
	second := capability.ToolPermission{
		ToolName:              "edit_file",
		Capabilities:          []capability.Capability{capability.FileRead, capability.FileWrite},
		AlwaysRequireApproval: true,
	}

	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(second); err != nil {
		t.Fatal(err)
	}

	got, _ := r.Lookup("edit_file")
	if len(got.Capabilities) != 2 || !got.AlwaysRequireApproval {
		t.Errorf("later registration should win, got %+v", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := New()
	if err := r.Register(capability.ToolPermission{ToolName: "empty"}); err == nil {
		t.Error("expected error for tool without capabilities")
	}
	if r.Len() != 0 {
		t.Error("invalid permission must not be stored")
	}
}

func TestNamesSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		perm := capability.ToolPermission{
			ToolName:     name,
			Capabilities: []capability.Capability{capability.FileRead},
		}
		if err := r.Register(perm); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Names = %v, want %v", names, want)
		}
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := `tool_name: run_command
capabilities:
  - category: terminal.execute
    risk: dangerous
    description: run a shell command
always_require_approval: true
`
	path := filepath.Join(dir, "run_command.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0600); err != nil {
		t.Fatal(err)
	}

	r := New()
	perm, err := r.LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if perm.ToolName != "run_command" {
		t.Errorf("ToolName = %q", perm.ToolName)
	}
	if !perm.AlwaysRequireApproval {
		t.Error("always_require_approval not parsed")
	}
	if perm.Capabilities[0].Risk != capability.RiskDangerous {
		t.Errorf("risk = %v", perm.Capabilities[0].Risk)
	}

	if _, ok := r.Lookup("run_command"); !ok {
		t.Error("manifest load should register the tool")
	}
}

func TestLoadManifest_BadRisk(t *testing.T) {
	dir := t.TempDir()
	manifest := `tool_name: bad
capabilities:
  - category: terminal.execute
    risk: catastrophic
`
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := New().LoadManifest(path); err == nil {
		t.Error("expected error for unknown risk level")
	}
}

func TestLoadManifests(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"read.yaml": "tool_name: read_file\ncapabilities:\n  - category: filesystem.read\n    risk: safe\n",
		"http.yml":  "tool_name: fetch_url\ncapabilities:\n  - category: network.http\n    risk: moderate\n",
		"notes.txt": "not a manifest",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}

	r := New()
	n, err := r.LoadManifests(dir)
	if err != nil {
		t.Fatalf("LoadManifests: %v", err)
	}
	if n != 2 {
		t.Errorf("loaded %d manifests, want 2", n)
	}
	if r.Len() != 2 {
		t.Errorf("registry has %d tools, want 2", r.Len())
	}
}

func TestLoadManifests_MissingDir(t *testing.T) {
	n, err := New().LoadManifests(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("missing directory should not be an error: %v", err)
	}
	if n != 0 {
		t.Errorf("loaded %d, want 0", n)
	}
}
