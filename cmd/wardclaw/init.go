package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/mackeh/WardClaw/internal/config"
	"github.com/mackeh/WardClaw/internal/secrets"
)

// policyTemplates are the Rego overlays written by init. The overlay
// can only tighten the engine's verdict, never relax it, so "allow"
// here means "no opinion".
var policyTemplates = map[string]string{
	"standard": `package wardclaw.policy

import rego.v1

# Backstop: stay out of the way unless something destructive is about
# to run without a human in the loop.
default decision = "allow"

decision = "deny" if {
	input.risk == "destructive"
	not input.requires_approval
}
`,
	"strict": `package wardclaw.policy

import rego.v1

# Strict: every non-safe call needs a human, destructive calls are
# refused outright.
default decision = "require_approval"

decision = "allow" if {
	input.risk == "safe"
}

decision = "deny" if {
	input.risk == "destructive"
}
`,
	"permissive": `package wardclaw.policy

import rego.v1

# Permissive: the engine's own gates decide; only destructive calls
# are pinned behind approval.
default decision = "allow"

decision = "require_approval" if {
	input.risk == "destructive"
}
`,
}

// sampleManifest seeds tools.d so the first simulate has something to
// resolve against.
const sampleManifest = `# Example tool manifest. Each file in this directory declares the
# capability envelope of one tool the agent may call.
tool_name: read_file
capabilities:
  - category: filesystem.read
    scope: "./workspace/*"
    risk: safe
    description: read files from the workspace
`

// setupChoices is what the interactive form collects. An aborted form
// falls back to these defaults: standard policy, terminal prompts
// only, secrets on.
type setupChoices struct {
	policy  string
	server  bool
	secrets bool
}

func askSetupChoices() setupChoices {
	c := setupChoices{policy: "standard", secrets: true}

	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Policy strictness?").
			Options(
				huh.NewOption("Standard (auto-approve safe, ask for the rest)", "standard"),
				huh.NewOption("Strict (every call asks, destructive denied)", "strict"),
				huh.NewOption("Permissive (auto-approve up to moderate risk)", "permissive"),
			).
			Value(&c.policy),

		huh.NewConfirm().
			Title("Enable the approval API server?").
			Affirmative("Yes").
			Negative("No (terminal prompts only)").
			Value(&c.server),

		huh.NewConfirm().
			Title("Initialize encrypted secret store?").
			Affirmative("Yes (recommended)").
			Negative("No").
			Value(&c.secrets),
	))

	if err := form.Run(); err != nil {
		return setupChoices{policy: "standard", secrets: true}
	}
	return c
}

// writeOverlay renders the Rego template for the chosen strictness,
// falling back to standard for a choice it does not know.
func writeOverlay(cfgDir, choice string) error {
	tmpl, ok := policyTemplates[choice]
	if !ok {
		tmpl = policyTemplates["standard"]
	}

	path := filepath.Join(cfgDir, "policy.rego")
	if err := os.WriteFile(path, []byte(tmpl), 0600); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}
	fmt.Printf("✅ Created %s (%s policy)\n", path, choice)
	return nil
}

// seedManifests drops the example manifest into tools.d unless the
// file is already there.
func seedManifests(cfgDir string) error {
	path := filepath.Join(cfgDir, "tools.d", "read_file.yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(sampleManifest), 0600); err != nil {
		return fmt.Errorf("failed to write example manifest: %w", err)
	}
	fmt.Printf("✅ Created %s (example manifest)\n", path)
	return nil
}

// initSecretStore generates the age keypair unless one already exists.
func initSecretStore(cfgDir string) error {
	secretsDir := filepath.Join(cfgDir, "secrets")
	if _, err := os.Stat(filepath.Join(secretsDir, "keys.txt")); err == nil {
		fmt.Println("ℹ️  Secret store already initialized, keeping existing keys")
		return nil
	}

	pubKey, err := secrets.NewManager(secretsDir).Init()
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}
	fmt.Println("✅ Initialized secret store")
	fmt.Printf("🔑 Public key: %s\n", pubKey)
	return nil
}

func runInit() error {
	cfgDir, err := config.DefaultConfigDir()
	if err != nil {
		return err
	}

	fmt.Println("🛡️  WardClaw Setup")
	fmt.Println()

	configPath := filepath.Join(cfgDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("⚠️  Existing configuration at %s will be overwritten.\n\n", configPath)
	}

	choices := askSetupChoices()

	for _, dir := range []string{
		cfgDir,
		filepath.Join(cfgDir, "security"),
		filepath.Join(cfgDir, "secrets"),
		filepath.Join(cfgDir, "tools.d"),
	} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	cfg := config.Default()
	cfg.Server.Enabled = choices.server
	switch choices.policy {
	case "strict":
		cfg.Policy.AutoApproveSafe = false
	case "permissive":
		cfg.Policy.AutoApproveModerate = true
	}
	if err := cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("✅ Created %s\n", configPath)

	if err := writeOverlay(cfgDir, choices.policy); err != nil {
		return err
	}
	if err := seedManifests(cfgDir); err != nil {
		return err
	}
	if choices.secrets {
		if err := initSecretStore(cfgDir); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Println("🛡️  WardClaw initialized successfully!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Drop tool manifests into %s\n", filepath.Join(cfgDir, "tools.d"))
	fmt.Printf("  2. Run 'wardclaw doctor' to verify your setup\n")
	fmt.Printf("  3. Run 'wardclaw simulate read_file --path ./workspace/notes.txt' to see a decision\n")
	fmt.Printf("  4. Run 'wardclaw serve' to open the approval API\n")
	return nil
}
