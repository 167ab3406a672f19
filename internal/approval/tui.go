package approval

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mackeh/WardClaw/internal/capability"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F5F5F5")).
			Background(lipgloss.Color("#1E6B52")).
			Padding(0, 1)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#36C58F")).
			Bold(true)

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	riskStyles = map[capability.Risk]lipgloss.Style{
		capability.RiskDestructive: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		capability.RiskDangerous:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8700")).Bold(true),
		capability.RiskModerate:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		capability.RiskSafe:        lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
	}
)

type Model struct {
	Request  Request
	Choice   string
	Quitting bool
}

func NewModel(req Request) Model {
	return Model{Request: req}
}

func (m Model) Init() tea.Cmd {
	return nil
}

// decide records the choice and quits the program.
func (m Model) decide(choice string) (tea.Model, tea.Cmd) {
	m.Choice = choice
	m.Quitting = true
	return m, tea.Quit
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "y", "Y":
		return m.decide("approve")
	case "a", "A":
		return m.decide("always")
	case "n", "N", "q", "ctrl+c":
		return m.decide("deny")
	}
	return m, nil
}

func (m Model) View() string {
	if m.Choice != "" {
		return fmt.Sprintf("\n  Decision: %s\n\n", m.Choice)
	}

	var s strings.Builder
	fmt.Fprintf(&s, "\n%s %s\n\n", titleStyle.Render(" PERMISSION REQUEST "), renderRiskBadge(m.Request.Risk))
	fmt.Fprintf(&s, "  %s wants to run:\n\n", toolStyle.Render(m.Request.ToolName))

	for _, name := range m.Request.Capabilities {
		fmt.Fprintf(&s, "  • %s\n", name)
	}

	// Surface the one argument a human needs to judge the request.
	for _, key := range []string{"path", "filePath", "command", "url"} {
		if v, ok := m.Request.Args[key]; ok {
			fmt.Fprintf(&s, "\n  %s: %v\n", key, v)
			break
		}
	}

	if m.Request.Reason != "" {
		fmt.Fprintf(&s, "\n  %s\n", subtleStyle.Render(m.Request.Reason))
	}

	s.WriteString("\n  [Y] Approve once   [A] Always allow   [N] Deny\n\n")
	return s.String()
}

func renderRiskBadge(r capability.Risk) string {
	style, ok := riskStyles[r]
	if !ok {
		style = riskStyles[capability.RiskSafe]
	}
	return style.Render(r.Emoji() + " " + strings.ToUpper(r.String()))
}

// RunPrompt launches the TUI and blocks until the user chooses.
// Returns: "approve", "deny", or "always".
func RunPrompt(req Request) (string, error) {
	p := tea.NewProgram(NewModel(req))
	m, err := p.Run()
	if err != nil {
		return "deny", err
	}

	if model, ok := m.(Model); ok && model.Choice != "" {
		return model.Choice, nil
	}
	return "deny", nil
}

// TUIApprover satisfies Approver with an interactive terminal prompt.
type TUIApprover struct{}

// Approve implements Approver.
func (TUIApprover) Approve(_ context.Context, req Request) (Verdict, error) {
	choice, err := RunPrompt(req)
	if err != nil {
		return VerdictDeny, err
	}
	switch choice {
	case "approve":
		return VerdictApprove, nil
	case "always":
		return VerdictAlways, nil
	default:
		return VerdictDeny, nil
	}
}
