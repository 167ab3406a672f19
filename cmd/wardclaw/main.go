package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mackeh/WardClaw/internal/audit"
	"github.com/mackeh/WardClaw/internal/capability"
	"github.com/mackeh/WardClaw/internal/config"
	"github.com/mackeh/WardClaw/internal/doctor"
	"github.com/mackeh/WardClaw/internal/grants"
	"github.com/mackeh/WardClaw/internal/policy"
	"github.com/mackeh/WardClaw/internal/posture"
	"github.com/mackeh/WardClaw/internal/secrets"
	"github.com/mackeh/WardClaw/internal/server"
	"github.com/mackeh/WardClaw/internal/simulate"
	"github.com/mackeh/WardClaw/internal/telemetry"
	"github.com/mackeh/WardClaw/internal/updater"
	"github.com/mackeh/WardClaw/internal/warden"
	"github.com/spf13/cobra"
)

var version = "0.6.0"

func main() {
	cleanup := setupTracing()
	defer cleanup(context.Background())

	rootCmd := &cobra.Command{
		Use:   "wardclaw",
		Short: "Permission engine for autonomous agents",
		Long: `WardClaw sits between an AI agent and the tools it calls.
It provides capability-based permissions, path and command deny-lists,
human-in-the-loop approvals, standing grants, encrypted secrets, and
tamper-evident audit logging.`,
		Version: version,
	}

	rootCmd.AddCommand(
		initCmd(), checkCmd(), simulateCmd(), grantsCmd(), auditCmd(),
		policyCmd(), secretsCmd(), serveCmd(), lockdownCmd(), unlockCmd(),
		doctorCmd(), postureCmd(), updateCmd(), versionCmd(), completionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupTracing wires the OpenTelemetry provider when config asks for
// it. Spans append to traces.json under the config dir; any failure
// along the way degrades to the disabled no-op rather than blocking
// the CLI.
func setupTracing() func(context.Context) error {
	cfg, err := config.LoadDefault()
	if err != nil || cfg == nil || !cfg.Telemetry.Enabled {
		cleanup, _ := telemetry.Setup(context.Background(), version, false, nil)
		return cleanup
	}

	var sink io.Writer
	if cfgDir, err := config.DefaultConfigDir(); err == nil {
		f, err := os.OpenFile(filepath.Join(cfgDir, "traces.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err == nil {
			sink = f
		}
	}

	cleanup, _ := telemetry.Setup(context.Background(), version, sink != nil, sink)
	return cleanup
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize WardClaw configuration",
		Long:  "Creates the ~/.wardclaw directory with default configuration files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

// newManager builds the full decision pipeline from the default config
// and installs the Rego overlay, the same way serve does.
func newManager(ctx context.Context) (*warden.Manager, error) {
	cfg := config.LoadOrDefault()
	m, err := warden.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if o, err := policy.LoadDefaultOverlay(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  policy overlay not loaded: %v\n", err)
	} else {
		m.SetOverlay(o)
	}
	return m, nil
}

// buildCallArgs assembles the argument map for check/simulate from the
// shorthand flags plus free-form key=value pairs.
func buildCallArgs(path, command, url string, kvs []string) map[string]any {
	callArgs := map[string]any{}
	if path != "" {
		callArgs["path"] = path
	}
	if command != "" {
		callArgs["command"] = command
	}
	if url != "" {
		callArgs["url"] = url
	}
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			callArgs[k] = v
		}
	}
	return callArgs
}

func checkCmd() *cobra.Command {
	var path, command, url string
	var kvArgs []string

	cmd := &cobra.Command{
		Use:   "check [TOOL]",
		Short: "Check a tool call against the live policy",
		Long: `Evaluates one tool call without executing it and without writing an
audit entry. Exits 1 when the call would be hard-denied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			toolName := args[0]
			result := m.Check(cmd.Context(), toolName, buildCallArgs(path, command, url, kvArgs))

			switch {
			case result.Allowed:
				fmt.Printf("✅ %s: allowed (%s) — %s\n", toolName, result.Risk, result.Reason)
			case result.RequiresApproval:
				fmt.Printf("🟡 %s: requires approval (%s) — %s\n", toolName, result.Risk, result.Reason)
			default:
				fmt.Printf("⛔ %s: denied — %s\n", toolName, result.Reason)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path argument of the call")
	cmd.Flags().StringVar(&command, "command", "", "command argument of the call")
	cmd.Flags().StringVar(&url, "url", "", "url argument of the call")
	cmd.Flags().StringArrayVar(&kvArgs, "arg", nil, "extra argument as key=value (repeatable)")
	return cmd
}

func simulateCmd() *cobra.Command {
	var path, command, url string
	var kvArgs []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "simulate [TOOL]",
		Short: "Dry-run a tool call and explain the decision",
		Long: `Analyzes a prospective tool call and reports the decision together
with the rule that produced it, without executing anything and without
writing an audit entry.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd.Context())
			if err != nil {
				return err
			}
			defer m.Close()

			report := simulate.Run(cmd.Context(), m.Engine(), m.Principal(), args[0], buildCallArgs(path, command, url, kvArgs))

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Printf("🔮 Simulation: %s\n", report.ToolName)
			if !report.Known {
				fmt.Println("   ❓ Tool is not registered; unknown tools fail closed.")
			}
			fmt.Printf("   Risk: %s\n", riskBadge(report.Risk))
			fmt.Println()

			if len(report.Capabilities) > 0 {
				fmt.Println("   Capabilities:")
				for _, c := range report.Capabilities {
					scope := c.Scope
					if scope == "" {
						scope = "(unscoped)"
					}
					fmt.Printf("     • %-18s %-22s %s\n", c.Category, scope, riskBadge(c.Risk))
					if c.Argument != "" {
						fmt.Printf("       └─ argument: %s\n", c.Argument)
					}
					if c.DenyListHit != "" {
						fmt.Printf("       └─ ⛔ deny-list hit: %s\n", c.DenyListHit)
					}
					if c.GrantCovered {
						fmt.Println("       └─ 🎫 covered by standing grant")
					}
				}
				fmt.Println()
			}

			switch report.Decision {
			case simulate.DecisionAllow:
				fmt.Printf("   Decision: ✅ allow — %s\n", report.RuleFired)
			case simulate.DecisionRequireApproval:
				fmt.Printf("   Decision: 🟡 require approval — %s\n", report.RuleFired)
			default:
				fmt.Printf("   Decision: ⛔ deny — %s\n", report.RuleFired)
			}
			if report.Reason != "" {
				fmt.Printf("   Reason: %s\n", report.Reason)
			}

			if len(report.Warnings) > 0 {
				fmt.Println()
				fmt.Println("   Warnings:")
				for _, w := range report.Warnings {
					fmt.Printf("     ⚠️  %s\n", w)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path argument of the call")
	cmd.Flags().StringVar(&command, "command", "", "command argument of the call")
	cmd.Flags().StringVar(&url, "url", "", "url argument of the call")
	cmd.Flags().StringArrayVar(&kvArgs, "arg", nil, "extra argument as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	return cmd
}

func riskBadge(risk string) string {
	switch risk {
	case "destructive":
		return "🔴 destructive"
	case "dangerous":
		return "🟠 dangerous"
	case "moderate":
		return "🟡 moderate"
	case "safe":
		return "🟢 safe"
	}
	return risk
}

// openGrants opens the grant store at its configured location and
// resolves the acting principal.
func openGrants(principal string) (*grants.Store, string, error) {
	cfg := config.LoadOrDefault()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if principal == "" {
		principal = cfg.Principal
	}
	if principal == "" {
		principal = grants.DefaultPrincipal
	}
	return grants.NewStore(filepath.Join(dataDir, "security", "grants.json")), principal, nil
}

func grantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Manage standing capability grants",
	}

	var listPrincipal string
	list := &cobra.Command{
		Use:   "list",
		Short: "List active grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, who, err := openGrants(listPrincipal)
			if err != nil {
				return err
			}

			active := store.List(who)
			if len(active) == 0 {
				fmt.Printf("📭 No standing grants for %q.\n", who)
				return nil
			}

			fmt.Printf("🎫 Standing grants for %q:\n", who)
			for _, g := range active {
				scope := g.Scope
				if scope == "" {
					scope = "(unscoped)"
				}
				expiry := "permanent"
				if !g.ExpiresAt.IsZero() {
					expiry = "expires " + g.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Printf("  • %-18s %-22s %s (by %s)\n", g.Category, scope, expiry, g.GrantedBy)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listPrincipal, "principal", "", "principal to list (defaults to the configured one)")
	cmd.AddCommand(list)

	var addPrincipal string
	var addDuration time.Duration
	add := &cobra.Command{
		Use:   "add [CATEGORY] [SCOPE]",
		Short: "Issue a standing grant",
		Long: `Grants a capability category, optionally narrowed to a glob scope.

Example:
  wardclaw grants add filesystem.write "/tmp/*" --for 24h`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := args[0]
			scope := ""
			if len(args) > 1 {
				scope = args[1]
			}
			if _, known := capability.Known[category]; !known {
				fmt.Printf("⚠️  %q is not a built-in category; granting anyway.\n", category)
			}

			store, who, err := openGrants(addPrincipal)
			if err != nil {
				return err
			}

			g := store.Grant(category, scope, grants.Options{
				Duration:  addDuration,
				Principal: who,
				GrantedBy: grants.GrantedByUser,
			})

			target := category
			if scope != "" {
				target = fmt.Sprintf("%s on %q", category, scope)
			}
			if g.ExpiresAt.IsZero() {
				fmt.Printf("✅ Granted %s to %q (permanent).\n", target, who)
			} else {
				fmt.Printf("✅ Granted %s to %q until %s.\n", target, who, g.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	add.Flags().DurationVar(&addDuration, "for", 0, "grant lifetime (0 means permanent)")
	add.Flags().StringVar(&addPrincipal, "principal", "", "principal to grant to")
	cmd.AddCommand(add)

	var revokePrincipal string
	revoke := &cobra.Command{
		Use:   "revoke [CATEGORY] [SCOPE]",
		Short: "Revoke a standing grant",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			category := args[0]
			scope := ""
			if len(args) > 1 {
				scope = args[1]
			}

			store, who, err := openGrants(revokePrincipal)
			if err != nil {
				return err
			}

			target := category
			if scope != "" {
				target = fmt.Sprintf("%s on %q", category, scope)
			}
			if store.Revoke(category, scope, who) {
				fmt.Printf("✅ Revoked %s.\n", target)
			} else {
				fmt.Printf("❌ No matching grant for %s.\n", target)
			}
			return nil
		},
	}
	revoke.Flags().StringVar(&revokePrincipal, "principal", "", "principal to revoke from")
	cmd.AddCommand(revoke)

	return cmd
}

func auditLogPath() (string, error) {
	cfg := config.LoadOrDefault()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "security", "audit.json"), nil
}

func auditCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "View the tamper-evident audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath, err := auditLogPath()
			if err != nil {
				return err
			}

			entries, err := audit.ReadAll(logPath)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("📜 Audit log (empty)")
				return nil
			}

			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			fmt.Printf("📜 Audit log (last %d):\n", len(entries))
			for _, e := range entries {
				fmt.Printf("[%s] %s → %s (by %s)\n",
					e.Timestamp.Format(time.RFC3339),
					e.ToolName,
					e.Result,
					e.ApprovalSource,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many entries")

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			logPath, err := auditLogPath()
			if err != nil {
				return err
			}

			fmt.Println("🕵️  Checking the hash chain...")
			if err := audit.VerifyFile(logPath); err != nil {
				fmt.Printf("❌ Audit chain broken: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("✅ Audit chain intact. No entries were altered.")
			return nil
		},
	})

	return cmd
}

func saveConfig(cfg *config.Config) error {
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return err
	}
	return cfg.Save(filepath.Join(dir, "config.yaml"))
}

// appendUnique appends v unless the list already holds it.
func appendUnique(list []string, v string) ([]string, bool) {
	for _, p := range list {
		if p == v {
			return list, false
		}
	}
	return append(list, v), true
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and edit the security policy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			pol := cfg.Policy

			fmt.Println("📋 Security policy")
			fmt.Println()
			fmt.Printf("  auto_approve_safe:            %v\n", pol.AutoApproveSafe)
			fmt.Printf("  auto_approve_moderate:        %v\n", pol.AutoApproveModerate)
			fmt.Printf("  never_auto_approve_dangerous: %v\n", pol.NeverAutoApproveDangerous)
			fmt.Println()

			fmt.Printf("  blocked paths (%d):\n", len(pol.BlockedPaths))
			for _, p := range pol.BlockedPaths {
				fmt.Printf("    ⛔ %s\n", p)
			}
			fmt.Printf("  blocked commands (%d):\n", len(pol.BlockedCommands))
			for _, c := range pol.BlockedCommands {
				fmt.Printf("    ⛔ %s\n", c)
			}
			if len(pol.AllowedPaths) > 0 {
				fmt.Printf("  allowed paths (%d):\n", len(pol.AllowedPaths))
				for _, p := range pol.AllowedPaths {
					fmt.Printf("    ✅ %s\n", p)
				}
			}

			if dir, err := config.DefaultConfigDir(); err == nil {
				regoPath := filepath.Join(dir, "policy.rego")
				if _, err := os.Stat(regoPath); err == nil {
					fmt.Printf("\n  overlay: %s\n", regoPath)
				} else {
					fmt.Println("\n  overlay: built-in backstop only")
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [KEY] [VALUE]",
		Short: "Set an auto-approval gate",
		Long: `Sets one of the boolean policy gates and saves the configuration:
auto_approve_safe, auto_approve_moderate, never_auto_approve_dangerous.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			val, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("value must be true or false: %w", err)
			}

			cfg := config.LoadOrDefault()
			switch args[0] {
			case "auto_approve_safe":
				cfg.Policy.AutoApproveSafe = val
			case "auto_approve_moderate":
				cfg.Policy.AutoApproveModerate = val
			case "never_auto_approve_dangerous":
				cfg.Policy.NeverAutoApproveDangerous = val
			default:
				return fmt.Errorf("unknown policy key %q", args[0])
			}

			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("✅ %s = %v\n", args[0], val)
			if args[0] == "auto_approve_moderate" && val {
				fmt.Println("⚠️  Moderate-risk actions (file writes, HTTP) now run without approval.")
			}
			if args[0] == "never_auto_approve_dangerous" && !val {
				fmt.Println("⚠️  Dangerous actions may now auto-approve. This is rarely what you want.")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "block-path [GLOB]",
		Short: "Add a glob to the blocked-path list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			var added bool
			cfg.Policy.BlockedPaths, added = appendUnique(cfg.Policy.BlockedPaths, args[0])
			if !added {
				fmt.Printf("ℹ️  %q is already blocked.\n", args[0])
				return nil
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("⛔ Blocked path pattern %q.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "block-command [REGEX]",
		Short: "Add a regex to the blocked-command list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := regexp.Compile(args[0]); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			cfg := config.LoadOrDefault()
			var added bool
			cfg.Policy.BlockedCommands, added = appendUnique(cfg.Policy.BlockedCommands, args[0])
			if !added {
				fmt.Printf("ℹ️  %q is already blocked.\n", args[0])
				return nil
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("⛔ Blocked command pattern %q.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "allow-path [GLOB]",
		Short: "Add a glob to the allowed-path list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			var added bool
			cfg.Policy.AllowedPaths, added = appendUnique(cfg.Policy.AllowedPaths, args[0])
			if !added {
				fmt.Printf("ℹ️  %q is already allowed.\n", args[0])
				return nil
			}
			if err := saveConfig(cfg); err != nil {
				return err
			}
			fmt.Printf("✅ Allowed path pattern %q.\n", args[0])
			return nil
		},
	})

	return cmd
}

func openSecrets() (secrets.Store, error) {
	return config.LoadOrDefault().OpenSecrets()
}

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage encrypted secrets",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Generate the encryption keypair for the secret store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			if cfg.Secrets.Backend == "vault" {
				fmt.Println("ℹ️  Vault backend configured; no local keys to generate.")
				return nil
			}

			dir, err := config.ResolveSecretsDir()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0700); err != nil {
				return fmt.Errorf("failed to create secrets dir: %w", err)
			}

			pubKey, err := secrets.NewManager(dir).Init()
			if err != nil {
				return err
			}

			fmt.Println("🔐 Secret store initialized!")
			fmt.Printf("🔑 Public key: %s\n", pubKey)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [KEY] [VALUE]",
		Short: "Encrypt and store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSecrets()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("🔐 Secret %q encrypted and saved.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [KEY]",
		Short: "Decrypt and print a secret value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSecrets()
			if err != nil {
				return err
			}
			value, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [KEY]",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSecrets()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("✅ Secret %q deleted.\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored secrets (names only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openSecrets()
			if err != nil {
				return err
			}
			keys, err := store.List()
			if err != nil {
				return err
			}

			if len(keys) == 0 {
				fmt.Println("🔐 No secrets stored.")
				return nil
			}

			fmt.Println("🔐 Stored secrets:")
			for _, k := range keys {
				fmt.Printf("  • %s\n", k)
			}
			return nil
		},
	})

	return cmd
}

// resolveAPIKeys fills Token from the secret store for keys configured
// with token_secret. A key that fails to resolve keeps an empty token
// and never authenticates.
func resolveAPIKeys(cfg *config.Config, auth *config.AuthConfig) {
	needed := false
	for _, k := range auth.Keys {
		if k.Token == "" && k.TokenSecret != "" {
			needed = true
			break
		}
	}
	if !needed {
		return
	}

	store, err := cfg.OpenSecrets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  secret store unavailable: %v\n", err)
		return
	}
	for i, k := range auth.Keys {
		if k.Token != "" || k.TokenSecret == "" {
			continue
		}
		v, err := store.Get(k.TokenSecret)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  API key %q: secret %q not resolved; key disabled\n", k.Name, k.TokenSecret)
			continue
		}
		auth.Keys[i].Token = v
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the approval API server",
		Long: `Serves the approval channel over HTTP: dry-run checks, pending
approvals, grants, policy and audit endpoints, plus a WebSocket event
stream and Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			m, err := warden.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			defer m.Close()

			if o, err := policy.LoadDefaultOverlay(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  policy overlay not loaded: %v\n", err)
			} else {
				m.SetOverlay(o)
			}

			auth := cfg.Server.Auth
			if auth.Enabled {
				resolveAPIKeys(cfg, &auth)
			}

			listen := cfg.Server.Addr
			if addr != "" {
				listen = addr
			}

			srv := server.New(m, server.Options{Addr: listen, Auth: auth, Version: version})
			m.SetApprovalHandler(srv.Pending())

			if n := m.Registry().Len(); n > 0 {
				fmt.Printf("🛠️  %d tools registered\n", n)
			} else {
				fmt.Println("ℹ️  No tool manifests loaded; unknown tools fail closed.")
			}
			if auth.Enabled {
				fmt.Printf("🔑 API-key auth enabled (%d keys)\n", len(auth.Keys))
			} else {
				fmt.Println("⚠️  Auth disabled; keep the listen address on loopback.")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			return srv.Start()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// postAPI sends one JSON request to the approval API. Lockdown state
// lives in the server process, so these commands need it running.
func postAPI(addr, token, apiPath string, body any) error {
	if addr == "" {
		addr = config.LoadOrDefault().Server.Addr
	}
	if addr == "" {
		addr = server.DefaultAddr
	}
	if token == "" {
		token = os.Getenv("WARDCLAW_API_TOKEN")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+apiPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach the approval API at %s (is 'wardclaw serve' running?): %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return nil
}

func lockdownCmd() *cobra.Command {
	var reason, addr, token string

	cmd := &cobra.Command{
		Use:   "lockdown",
		Short: "Engage emergency lockdown on the running server",
		Long:  "Tells a running 'wardclaw serve' process to hard-deny every tool call until unlock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postAPI(addr, token, "/api/lockdown", map[string]string{"reason": reason}); err != nil {
				return err
			}
			fmt.Println("🚨 Lockdown engaged. Every tool call is denied until 'wardclaw unlock'.")
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "engaged via CLI", "reason recorded with the lockdown")
	cmd.Flags().StringVar(&addr, "addr", "", "server address (defaults to config)")
	cmd.Flags().StringVar(&token, "token", "", "admin API token (defaults to $WARDCLAW_API_TOKEN)")
	return cmd
}

func unlockCmd() *cobra.Command {
	var addr, token string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release an engaged lockdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postAPI(addr, token, "/api/unlock", map[string]string{}); err != nil {
				return err
			}
			fmt.Println("✅ Lockdown released. Normal policy evaluation resumed.")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (defaults to config)")
	cmd.Flags().StringVar(&token, "token", "", "admin API token (defaults to $WARDCLAW_API_TOKEN)")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose WardClaw setup and environment",
		Long:  "Runs health checks on configuration, deny-lists, the policy overlay, secrets, the audit chain, and disk space.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("🩺  WardClaw Health Check")
			fmt.Println()

			results := doctor.RunAll()
			counts := map[doctor.Status]int{}
			for _, r := range results {
				counts[r.Status]++
				// Dot-pad the name so details line up.
				fmt.Printf("%s %s %s %s\n", statusIcon(r.Status), r.Name, strings.Repeat(".", 25-len(r.Name)), r.Detail)
				if r.Fix != "" && r.Status != doctor.StatusPass {
					fmt.Printf("   → %s\n", r.Fix)
				}
			}

			fmt.Printf("\n%d/%d checks passed", counts[doctor.StatusPass], len(results))
			if n := counts[doctor.StatusWarn]; n > 0 {
				fmt.Printf(" (%d warning%s)", n, plural(n))
			}
			if n := counts[doctor.StatusFail]; n > 0 {
				fmt.Printf(" (%d failure%s)", n, plural(n))
			}
			fmt.Println()

			if counts[doctor.StatusFail] > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func statusIcon(s doctor.Status) string {
	switch s {
	case doctor.StatusWarn:
		return "⚠️ "
	case doctor.StatusFail:
		return "❌"
	default:
		return "✅"
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func postureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posture",
		Short: "Show security posture score",
		Long:  "Evaluates your WardClaw configuration and assigns a security grade.",
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := posture.Calculate()
			if err != nil {
				return err
			}
			printPosture(score)
			return nil
		},
	}
}

func printPosture(score *posture.Score) {
	fmt.Println("🛡️  WardClaw Security Posture")
	fmt.Println()
	for _, c := range score.Categories {
		fmt.Printf("  %-12s %s %d/%d  %s\n", c.Name, renderBar(c.Points, c.Max), c.Points, c.Max, c.Detail)
	}
	fmt.Println()
	fmt.Printf("  Total: %d/%d (%d%%) — Grade: %s\n", score.Total, score.Max, score.Percentage, score.Grade)
}

// renderBar draws points/max as a fixed-width block gauge.
func renderBar(points, max int) string {
	const width = 20
	filled := 0
	if max > 0 {
		filled = points * width / max
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func updateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update wardclaw to the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := updater.New()

			fmt.Println("🔍 Checking for updates...")
			latest, err := u.Check(version)
			if err != nil {
				return fmt.Errorf("update check failed: %w", err)
			}
			if latest == "" {
				fmt.Printf("✅ wardclaw %s is up to date.\n", version)
				return nil
			}

			fmt.Printf("🆕 Version %s is available (current: %s).\n", latest, version)
			if checkOnly {
				fmt.Println("   Run 'wardclaw update' to install it.")
				return nil
			}
			return u.Apply()
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "only check, do not install")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wardclaw version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wardclaw %s\n", version)
		},
	}
}

func completionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for WardClaw.

To load completions:

Bash:
  $ source <(wardclaw completion bash)
  # Or add to ~/.bashrc:
  $ wardclaw completion bash > /etc/bash_completion.d/wardclaw

Zsh:
  $ wardclaw completion zsh > "${fpath[1]}/_wardclaw"

Fish:
  $ wardclaw completion fish | source
  $ wardclaw completion fish > ~/.config/fish/completions/wardclaw.fish

PowerShell:
  PS> wardclaw completion powershell | Out-String | Invoke-Expression
`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
