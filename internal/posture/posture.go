// Package posture calculates a security posture score for a WardClaw
// installation: how strict the approval gates are, how much the
// deny-lists cover, whether the audit chain holds, and whether an
// approval channel is wired for unattended runs.
package posture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mackeh/WardClaw/internal/audit"
	"github.com/mackeh/WardClaw/internal/config"
	"github.com/mackeh/WardClaw/internal/patterns"
)

// Grade is the letter assigned to the overall percentage. Cutoffs live
// in gradeFloors.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// gradeFloors maps each grade to the minimum percentage that earns it,
// best first. Anything below the last floor is an F.
var gradeFloors = []struct {
	floor int
	grade Grade
}{
	{90, GradeA},
	{75, GradeB},
	{60, GradeC},
	{40, GradeD},
}

// Score holds the posture assessment result.
type Score struct {
	Grade      Grade           `json:"grade"`
	Total      int             `json:"total"`
	Max        int             `json:"max"`
	Percentage int             `json:"percentage"`
	Categories []CategoryScore `json:"categories"`
}

// CategoryScore is one slice of the assessment: points earned out of
// the category's weight, plus a one-line explanation.
type CategoryScore struct {
	Name   string `json:"name"`
	Detail string `json:"detail"`
	Points int    `json:"points"`
	Max    int    `json:"max"`
}

// Calculate evaluates the current WardClaw configuration and returns a
// score.
func Calculate() (*Score, error) {
	cfgDir, err := config.DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, err
	}

	return tally([]CategoryScore{
		scoreGates(cfg, cfgDir), // 30
		scoreDenyLists(cfg),     // 20
		scoreAudit(dataDir),     // 20
		scoreSecrets(cfgDir),    // 15
		scoreChannel(cfg),       // 15
	}), nil
}

// tally sums the categories and grades the result.
func tally(categories []CategoryScore) *Score {
	s := &Score{Categories: categories}
	for _, c := range categories {
		s.Total += c.Points
		s.Max += c.Max
	}
	if s.Max > 0 {
		s.Percentage = s.Total * 100 / s.Max
	}
	s.Grade = gradeFromPct(s.Percentage)
	return s
}

// scoreGates rewards a policy that keeps humans in the loop. Turning
// off the dangerous gate forfeits half the category.
func scoreGates(cfg *config.Config, cfgDir string) CategoryScore {
	cat := CategoryScore{Name: "Approval gates", Max: 30}

	var notes []string
	if cfg.Policy.NeverAutoApproveDangerous {
		cat.Points += 15
		notes = append(notes, "dangerous operations always prompt")
	} else {
		notes = append(notes, "dangerous operations can auto-approve")
	}

	if cfg.Policy.AutoApproveModerate {
		notes = append(notes, "moderate auto-approves")
	} else {
		cat.Points += 10
	}

	if _, err := os.Stat(filepath.Join(cfgDir, "policy.rego")); err == nil {
		cat.Points += 5
		notes = append(notes, "Rego overlay active")
	}

	cat.Detail = strings.Join(notes, ", ")
	return cat
}

func scoreDenyLists(cfg *config.Config) CategoryScore {
	cat := CategoryScore{Name: "Deny-lists", Max: 20}

	tier := func(have, stock int) int {
		switch {
		case have >= stock:
			return 10
		case have > 0:
			return 5
		default:
			return 0
		}
	}
	cat.Points += tier(len(cfg.Policy.BlockedPaths), len(patterns.DefaultBlockedPaths))
	cat.Points += tier(len(cfg.Policy.BlockedCommands), len(patterns.DefaultBlockedCommands))

	switch {
	case cat.Points == cat.Max:
		cat.Detail = fmt.Sprintf("%d blocked paths, %d blocked commands", len(cfg.Policy.BlockedPaths), len(cfg.Policy.BlockedCommands))
	case cat.Points == 0:
		cat.Detail = "deny-lists empty"
	default:
		cat.Detail = "deny-lists thinner than stock defaults"
	}

	return cat
}

func scoreAudit(dataDir string) CategoryScore {
	cat := CategoryScore{Name: "Audit", Max: 20}

	logPath := filepath.Join(dataDir, "security", "audit.json")
	_, statErr := os.Stat(logPath)
	switch {
	case os.IsNotExist(statErr):
		cat.Points = 15
		cat.Detail = "audit enabled, no entries yet"
	case audit.VerifyFile(logPath) != nil:
		cat.Detail = "hash chain broken"
	default:
		cat.Points = 20
		cat.Detail = "hash chain verified"
	}
	return cat
}

func scoreSecrets(cfgDir string) CategoryScore {
	present := func(name string) bool {
		_, err := os.Stat(filepath.Join(cfgDir, "secrets", name))
		return err == nil
	}

	cat := CategoryScore{Name: "Secrets", Max: 15}
	switch {
	case present("keys.txt") && present("secrets.enc"):
		cat.Points = 15
		cat.Detail = "age encryption with stored secrets"
	case present("keys.txt"):
		cat.Points = 10
		cat.Detail = "age encryption initialized"
	default:
		cat.Detail = "secret store not initialized"
	}
	return cat
}

// scoreChannel checks that approvals can actually reach a human. A
// terminal-only setup works interactively but fails closed the moment
// the agent runs unattended.
func scoreChannel(cfg *config.Config) CategoryScore {
	cat := CategoryScore{Name: "Approval channel", Max: 15}

	switch {
	case cfg.Server.Enabled && cfg.Server.Auth.Enabled:
		cat.Points = 15
		cat.Detail = "approval API with key auth"
	case cfg.Server.Enabled:
		cat.Points = 10
		cat.Detail = "approval API without auth (loopback only)"
	case len(cfg.Notifications) > 0:
		cat.Points = 5
		cat.Detail = "webhook notifications only (no remote resolution)"
	default:
		cat.Detail = "terminal prompts only, unattended runs fail closed"
	}

	return cat
}

func gradeFromPct(pct int) Grade {
	for _, g := range gradeFloors {
		if pct >= g.floor {
			return g.grade
		}
	}
	return GradeF
}
