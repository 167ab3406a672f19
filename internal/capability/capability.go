// Package capability defines the permission model for WardClaw: risk
// levels, capabilities, and the tool permissions built from them.
package capability

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Risk represents the risk level of a capability. Levels are totally
// ordered: Safe < Moderate < Dangerous < Destructive.
type Risk int

const (
	RiskSafe Risk = iota
	RiskModerate
	RiskDangerous
	RiskDestructive
)

func (r Risk) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskModerate:
		return "moderate"
	case RiskDangerous:
		return "dangerous"
	case RiskDestructive:
		return "destructive"
	default:
		return "unknown"
	}
}

// Emoji returns a colored emoji representing the risk level
func (r Risk) Emoji() string {
	switch r {
	case RiskSafe:
		return "🟢"
	case RiskModerate:
		return "🟡"
	case RiskDangerous:
		return "🟠"
	case RiskDestructive:
		return "🔴"
	default:
		return "⚪"
	}
}

// Description returns a short human-readable explanation of what the
// risk level means, used in approval prompts.
func (r Risk) Description() string {
	switch r {
	case RiskSafe:
		return "read-only or trivially reversible"
	case RiskModerate:
		return "modifies workspace files or sends outbound requests"
	case RiskDangerous:
		return "deletes data or executes arbitrary commands"
	case RiskDestructive:
		return "irreversible or touches security-sensitive state"
	default:
		return "unclassified"
	}
}

// ParseRisk parses a lowercase risk name. Unknown names are rejected:
// a typo in a manifest must fail loudly, not default to something.
func ParseRisk(s string) (Risk, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return RiskSafe, nil
	case "moderate":
		return RiskModerate, nil
	case "dangerous":
		return RiskDangerous, nil
	case "destructive":
		return RiskDestructive, nil
	default:
		return RiskSafe, fmt.Errorf("unknown risk level %q", s)
	}
}

func (r Risk) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

func (r *Risk) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseRisk(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Risk) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r *Risk) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseRisk(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Capability categories. Categories are dotted names; the set is open,
// these are the ones the built-in tools use.
const (
	FilesystemRead   = "filesystem.read"
	FilesystemWrite  = "filesystem.write"
	FilesystemDelete = "filesystem.delete"
	TerminalExecute  = "terminal.execute"
	NetworkHTTP      = "network.http"
	MemoryRead       = "memory.read"
	MemoryWrite      = "memory.write"
)

// IsFilesystem reports whether a category belongs to the filesystem
// family, the one subject to path deny-list checks.
func IsFilesystem(category string) bool {
	return strings.HasPrefix(category, "filesystem.")
}

// IsTerminal reports whether a category is subject to command
// deny-list checks.
func IsTerminal(category string) bool {
	return category == TerminalExecute
}

// Capability represents one permission a tool requires.
type Capability struct {
	Category    string `json:"category" yaml:"category"`
	Scope       string `json:"scope,omitempty" yaml:"scope,omitempty"` // optional glob, e.g. "./workspace/**"
	Risk        Risk   `json:"risk" yaml:"risk"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// String returns a human-readable representation of the capability
func (c Capability) String() string {
	if c.Scope != "" {
		return fmt.Sprintf("%s:%s", c.Category, c.Scope)
	}
	return c.Category
}

// WithScope returns a copy of the capability narrowed to a glob scope.
func (c Capability) WithScope(scope string) Capability {
	c.Scope = scope
	return c
}

// Predefined capabilities
var (
	// Dangerous capabilities - gated behind approval by default
	FileDelete = Capability{Category: FilesystemDelete, Risk: RiskDangerous, Description: "delete files or directories"}
	Exec       = Capability{Category: TerminalExecute, Risk: RiskDangerous, Description: "execute shell commands"}

	// Moderate-risk capabilities
	FileWrite   = Capability{Category: FilesystemWrite, Risk: RiskModerate, Description: "create or modify files"}
	HTTPRequest = Capability{Category: NetworkHTTP, Risk: RiskModerate, Description: "make outbound HTTP requests"}
	MemWrite    = Capability{Category: MemoryWrite, Risk: RiskModerate, Description: "mutate agent memory"}

	// Safe capabilities
	FileRead = Capability{Category: FilesystemRead, Risk: RiskSafe, Description: "read files"}
	MemRead  = Capability{Category: MemoryRead, Risk: RiskSafe, Description: "read agent memory"}
)

// Known holds the predefined capabilities by category.
var Known = map[string]Capability{
	FilesystemRead:   FileRead,
	FilesystemWrite:  FileWrite,
	FilesystemDelete: FileDelete,
	TerminalExecute:  Exec,
	NetworkHTTP:      HTTPRequest,
	MemoryRead:       MemRead,
	MemoryWrite:      MemWrite,
}

// ToolPermission declares what a tool is allowed to do. Instances are
// treated as immutable once registered.
type ToolPermission struct {
	ToolName              string       `json:"tool_name" yaml:"tool_name"`
	Capabilities          []Capability `json:"capabilities" yaml:"capabilities"`
	AlwaysRequireApproval bool         `json:"always_require_approval,omitempty" yaml:"always_require_approval,omitempty"`
}

// EffectiveRisk returns the tool's overall risk: the maximum risk of
// its declared capabilities, with a floor of RiskSafe.
func (tp ToolPermission) EffectiveRisk() Risk {
	return MaxRisk(tp.Capabilities)
}

// Validate rejects permissions that would make the engine guess.
func (tp ToolPermission) Validate() error {
	if strings.TrimSpace(tp.ToolName) == "" {
		return fmt.Errorf("tool permission missing tool name")
	}
	if len(tp.Capabilities) == 0 {
		return fmt.Errorf("tool %q declares no capabilities", tp.ToolName)
	}
	for i, c := range tp.Capabilities {
		if strings.TrimSpace(c.Category) == "" {
			return fmt.Errorf("tool %q: capability %d has empty category", tp.ToolName, i)
		}
		if c.Risk < RiskSafe || c.Risk > RiskDestructive {
			return fmt.Errorf("tool %q: capability %q has invalid risk", tp.ToolName, c.Category)
		}
	}
	return nil
}

// MaxRisk returns the highest risk level among the capabilities.
func MaxRisk(caps []Capability) Risk {
	maxRisk := RiskSafe
	for _, c := range caps {
		if c.Risk > maxRisk {
			maxRisk = c.Risk
		}
	}
	return maxRisk
}

// Names returns the capability strings in declaration order, the form
// audit entries record.
func Names(caps []Capability) []string {
	names := make([]string, 0, len(caps))
	for _, c := range caps {
		names = append(names, c.String())
	}
	return names
}
