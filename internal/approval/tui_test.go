package approval

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestModelUpdateKeys(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"y", "approve"},
		{"Y", "approve"},
		{"n", "deny"},
		{"N", "deny"},
		{"a", "always"},
		{"A", "always"},
		{"q", "deny"},
	}

	for _, tt := range tests {
		m := NewModel(testRequest())
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)})
		got := updated.(Model)
		if got.Choice != tt.want {
			t.Errorf("key %q: choice = %q, want %q", tt.key, got.Choice, tt.want)
		}
		if !got.Quitting {
			t.Errorf("key %q: expected quitting", tt.key)
		}
		if cmd == nil {
			t.Errorf("key %q: expected a quit command", tt.key)
		}
	}
}

func TestModelUpdateCtrlC(t *testing.T) {
	m := NewModel(testRequest())
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if got := updated.(Model); got.Choice != "deny" {
		t.Errorf("ctrl+c should deny, got %q", got.Choice)
	}
}

func TestModelUpdateIgnoresOtherKeys(t *testing.T) {
	m := NewModel(testRequest())
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	if got := updated.(Model); got.Choice != "" || got.Quitting {
		t.Errorf("unexpected state after unrelated key: %+v", got)
	}
	if cmd != nil {
		t.Error("unrelated key should not produce a command")
	}
}

func TestModelView(t *testing.T) {
	m := NewModel(testRequest())

	view := m.View()
	if !strings.Contains(view, "PERMISSION REQUEST") {
		t.Error("view missing header")
	}
	if !strings.Contains(view, "delete_file") {
		t.Error("view missing tool name")
	}
	if !strings.Contains(view, "filesystem.delete") {
		t.Error("view missing capability")
	}
	if !strings.Contains(view, "[Y] Approve once") {
		t.Error("view missing controls")
	}

	m.Choice = "approve"
	if !strings.Contains(m.View(), "Decision: approve") {
		t.Error("post-choice view should show the decision")
	}
}
