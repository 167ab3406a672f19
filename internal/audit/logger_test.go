package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mackeh/WardClaw/internal/capability"
)

func TestNewLog_StartsAtGenesis(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	if l.lastHash != genesisHash {
		t.Errorf("expected genesis hash, got %s", l.lastHash)
	}
	if l.Len() != 0 {
		t.Errorf("expected empty log, got %d entries", l.Len())
	}
}

func TestLogExecution_Fields(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	caps := []capability.Capability{capability.FileDelete}
	entry := l.LogExecution("delete_file", caps, map[string]any{"path": "/tmp/x"}, ResultDenied, SourceUser, "default")

	if entry.ID == "" || !strings.Contains(entry.ID, "-") {
		t.Errorf("ID = %q, want timestamp-suffix form", entry.ID)
	}
	if entry.ToolName != "delete_file" {
		t.Errorf("ToolName = %q", entry.ToolName)
	}
	if len(entry.Capabilities) != 1 || entry.Capabilities[0] != "filesystem.delete" {
		t.Errorf("Capabilities = %v", entry.Capabilities)
	}
	if entry.Result != ResultDenied || entry.ApprovalSource != SourceUser {
		t.Errorf("Result/Source = %v/%v", entry.Result, entry.ApprovalSource)
	}
	if entry.PrincipalID != "default" {
		t.Errorf("PrincipalID = %q", entry.PrincipalID)
	}
	if entry.Timestamp.Location() != time.UTC {
		t.Error("timestamps should be UTC")
	}
	if entry.PrevHash != genesisHash || entry.Hash == "" {
		t.Errorf("chain fields = %q/%q", entry.PrevHash, entry.Hash)
	}
}

func TestLogExecution_Sanitizes(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	args := map[string]any{
		"password": "hunter2",
		"note":     strings.Repeat("n", 600),
		"path":     "/tmp/x",
	}
	entry := l.LogExecution("login", []capability.Capability{capability.HTTPRequest}, args, ResultApproved, SourceUser, "")

	if entry.SanitizedArgs["password"] != "[REDACTED]" {
		t.Errorf("password = %v", entry.SanitizedArgs["password"])
	}
	note := entry.SanitizedArgs["note"].(string)
	if !strings.HasSuffix(note, "...[truncated]") || len(note) >= 600 {
		t.Errorf("note not truncated: len=%d", len(note))
	}
	if entry.SanitizedArgs["path"] != "/tmp/x" {
		t.Errorf("path = %v", entry.SanitizedArgs["path"])
	}
}

func TestRingBufferCap(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	first := l.LogExecution("tool", nil, nil, ResultAutoApproved, SourceAuto, "")
	for i := 0; i < maxEntries+10; i++ {
		l.LogExecution("tool", nil, nil, ResultAutoApproved, SourceAuto, "")
	}

	if l.Len() != maxEntries {
		t.Errorf("Len = %d, want %d", l.Len(), maxEntries)
	}
	oldest := l.Recent(0)[0]
	if oldest.ID == first.ID {
		t.Error("oldest entry should have been evicted (FIFO)")
	}
}

func TestRecent(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.LogExecution("tool", nil, map[string]any{"i": i}, ResultApproved, SourceUser, "")
	}

	last2 := l.Recent(2)
	if len(last2) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(last2))
	}
	if last2[0].SanitizedArgs["i"].(int) != 3 || last2[1].SanitizedArgs["i"].(int) != 4 {
		t.Errorf("Recent(2) = %v, %v; want entries 3 and 4 in order",
			last2[0].SanitizedArgs["i"], last2[1].SanitizedArgs["i"])
	}

	if len(l.Recent(0)) != 5 {
		t.Error("Recent(0) should return everything")
	}
	if len(l.Recent(100)) != 5 {
		t.Error("an oversized limit returns everything")
	}
}

func TestVerify_InMemoryChain(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.LogExecution("tool", nil, nil, ResultApproved, SourceUser, "")
	}
	if err := l.Verify(); err != nil {
		t.Errorf("expected valid chain: %v", err)
	}
}

func TestFlushAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security", "audit.json")

	l := NewLog(path)
	l.LogExecution("a", nil, nil, ResultApproved, SourceUser, "")
	l.LogExecution("b", nil, nil, ResultDenied, SourceUser, "")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen: entries load, the chain resumes from the last hash.
	l2 := NewLog(path)
	if l2.Len() != 2 {
		t.Fatalf("reloaded %d entries, want 2", l2.Len())
	}
	l2.LogExecution("c", nil, nil, ResultApproved, SourceAuto, "")
	if err := l2.Verify(); err != nil {
		t.Errorf("chain broken across restart: %v", err)
	}
	if err := l2.Close(); err != nil {
		t.Fatal(err)
	}

	if err := VerifyFile(path); err != nil {
		t.Errorf("persisted chain invalid: %v", err)
	}
}

func TestFlushKeepsMostRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")

	l := NewLog(path)
	for i := 0; i < maxPersisted+20; i++ {
		l.LogExecution("tool", nil, nil, ResultAutoApproved, SourceAuto, "")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	persisted, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(persisted) != maxPersisted {
		t.Errorf("persisted %d entries, want %d", len(persisted), maxPersisted)
	}

	// The truncated window must still verify: the first entry's
	// PrevHash is accepted as the anchor.
	if err := VerifyFile(path); err != nil {
		t.Errorf("truncated window should verify: %v", err)
	}
}

func TestVerifyFile_TamperDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")

	l := NewLog(path)
	l.LogExecution("a", nil, nil, ResultApproved, SourceUser, "")
	l.LogExecution("b", nil, nil, ResultApproved, SourceUser, "")
	l.Close()

	entries, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].ToolName = "tampered"
	data, _ := json.MarshalIndent(entries, "", "  ")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := VerifyFile(path); err == nil {
		t.Error("tampered entry should fail verification")
	}
}

func TestReadAll_NonExistent(t *testing.T) {
	entries, err := ReadAll("/nonexistent/path/audit.json")
	if err != nil {
		t.Fatalf("expected nil error for missing file, got: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected 0 entries, got %d", len(entries))
	}
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLog(path)
	if l.Len() != 0 {
		t.Errorf("corrupt file should mean an empty log, got %d", l.Len())
	}

	// Still usable; the next flush replaces the corrupt file.
	l.LogExecution("tool", nil, nil, ResultApproved, SourceUser, "")
	if err := l.Close(); err != nil {
		t.Fatalf("close after corrupt load: %v", err)
	}
	if err := VerifyFile(path); err != nil {
		t.Errorf("rewritten file should verify: %v", err)
	}
}

func TestEntryIDsUnique(t *testing.T) {
	l := NewLog("")
	defer l.Close()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		e := l.LogExecution("tool", nil, nil, ResultApproved, SourceUser, "")
		if seen[e.ID] {
			t.Fatalf("duplicate entry ID %q", e.ID)
		}
		seen[e.ID] = true
	}
}
