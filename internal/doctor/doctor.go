// Package doctor provides health checks for the WardClaw runtime
// environment: configuration, policy, secret store, audit chain,
// grant store, and notification transports.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mackeh/WardClaw/internal/audit"
	"github.com/mackeh/WardClaw/internal/config"
	"github.com/mackeh/WardClaw/internal/grants"
	"github.com/mackeh/WardClaw/internal/policy"
)

// Status represents the result of a health check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

// Result holds the outcome of a single health check.
type Result struct {
	Name   string
	Status Status
	Detail string
	Fix    string // suggested remediation
}

func pass(name, detail string) Result {
	return Result{Name: name, Status: StatusPass, Detail: detail}
}

func warn(name, detail, fix string) Result {
	return Result{Name: name, Status: StatusWarn, Detail: detail, Fix: fix}
}

func fail(name, detail, fix string) Result {
	return Result{Name: name, Status: StatusFail, Detail: detail, Fix: fix}
}

// RunAll executes every health check in display order.
func RunAll() []Result {
	cfgDir, err := config.DefaultConfigDir()
	if err != nil {
		return []Result{fail("Config directory", err.Error(), "Run: wardclaw init")}
	}

	checks := []func(string) Result{
		checkConfigDir,
		checkConfig,
		checkDenyLists,
		checkOverlay,
		checkManifests,
		checkSecrets,
		checkAuditLog,
		checkGrants,
		checkNotifiers,
		checkDiskSpace,
	}

	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		results = append(results, check(cfgDir))
	}
	return results
}

func checkConfigDir(cfgDir string) Result {
	info, err := os.Stat(cfgDir)
	switch {
	case err != nil:
		return fail("Config directory", "~/.wardclaw not found", "Run: wardclaw init")
	case !info.IsDir():
		return fail("Config directory", "~/.wardclaw exists but is not a directory", "Remove the file and run: wardclaw init")
	}
	return pass("Config directory", cfgDir)
}

func checkConfig(cfgDir string) Result {
	configPath := filepath.Join(cfgDir, "config.yaml")
	if _, err := config.Load(configPath); err != nil {
		return fail("Configuration", err.Error(), "Run: wardclaw init")
	}
	return pass("Configuration", configPath)
}

// checkDenyLists warns when the policy has been stripped of its
// blocked-path or blocked-command patterns. An empty deny-list is
// legal but almost always a misconfiguration.
func checkDenyLists(cfgDir string) Result {
	cfg := config.LoadOrDefault()

	paths := len(cfg.Policy.BlockedPaths)
	cmds := len(cfg.Policy.BlockedCommands)
	counts := fmt.Sprintf("%d blocked paths, %d blocked commands", paths, cmds)

	switch {
	case paths == 0 && cmds == 0:
		return warn("Deny-lists", "no blocked paths or commands configured",
			"Run: wardclaw init (or restore policy defaults in config.yaml)")
	case paths == 0 || cmds == 0:
		return warn("Deny-lists", counts, "Restore the missing deny-list in config.yaml")
	}
	return pass("Deny-lists", counts)
}

// checkOverlay compiles policy.rego when present. A missing overlay is
// fine; a broken one is not, because the engine refuses to start with
// an overlay it cannot compile.
func checkOverlay(cfgDir string) Result {
	overlayPath := filepath.Join(cfgDir, "policy.rego")
	info, err := os.Stat(overlayPath)
	if err != nil {
		return pass("Policy overlay", "no policy.rego (built-in rules only)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := policy.LoadOverlay(ctx, overlayPath); err != nil {
		return fail("Policy overlay", err.Error(), "Fix the Rego syntax in ~/.wardclaw/policy.rego")
	}
	return pass("Policy overlay", fmt.Sprintf("compiled (%d bytes)", info.Size()))
}

func checkManifests(cfgDir string) Result {
	cfg := config.LoadOrDefault()
	dir, err := cfg.ResolveManifestDir()
	if err != nil {
		return warn("Tool manifests", err.Error(), "")
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return pass("Tool manifests", "no manifest directory (tools registered at runtime)")
	}
	if err != nil {
		return warn("Tool manifests", err.Error(), fmt.Sprintf("Check permissions on %s", dir))
	}

	count := 0
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			count++
		}
	}
	return pass("Tool manifests", fmt.Sprintf("%d manifests in %s", count, dir))
}

func checkSecrets(cfgDir string) Result {
	secretsDir := filepath.Join(cfgDir, "secrets")

	if _, err := os.Stat(secretsDir); os.IsNotExist(err) {
		return warn("Secret store", "secrets directory not found", "Run: wardclaw secrets init")
	}
	if _, err := os.Stat(filepath.Join(secretsDir, "keys.txt")); os.IsNotExist(err) {
		return warn("Secret store", "not initialized (no keypair)", "Run: wardclaw secrets init")
	}
	if _, err := os.Stat(filepath.Join(secretsDir, "secrets.enc")); os.IsNotExist(err) {
		return pass("Secret store", "initialized (0 secrets)")
	}
	return pass("Secret store", "initialized")
}

func checkAuditLog(cfgDir string) Result {
	cfg := config.LoadOrDefault()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return warn("Audit log", err.Error(), "")
	}
	logPath := filepath.Join(dataDir, "security", "audit.json")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return pass("Audit log", "empty (no entries yet)")
	}

	entries, err := audit.ReadAll(logPath)
	if err != nil {
		return fail("Audit log", fmt.Sprintf("failed to read: %s", err),
			fmt.Sprintf("Check file permissions on %s", logPath))
	}

	if err := audit.VerifyFile(logPath); err != nil {
		return fail("Audit log", fmt.Sprintf("%d entries, %s", len(entries), err),
			"Audit log may have been tampered with. Investigate immediately.")
	}
	return pass("Audit log", fmt.Sprintf("valid (%d entries, chain intact)", len(entries)))
}

func checkGrants(cfgDir string) Result {
	cfg := config.LoadOrDefault()
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return warn("Grant store", err.Error(), "")
	}
	grantsPath := filepath.Join(dataDir, "security", "grants.json")

	if _, err := os.Stat(grantsPath); os.IsNotExist(err) {
		return pass("Grant store", "empty (no standing grants)")
	}

	store := grants.NewStore(grantsPath)
	active := 0
	for _, principal := range store.Principals() {
		active += len(store.List(principal))
	}
	return pass("Grant store", fmt.Sprintf("%d active grants", active))
}

// checkNotifiers probes each configured webhook endpoint. Unreachable
// transports degrade notification delivery but never block decisions,
// so failures here are warnings.
func checkNotifiers(cfgDir string) Result {
	cfg := config.LoadOrDefault()

	urls := make([]string, 0, len(cfg.Notifications))
	for _, nc := range cfg.Notifications {
		u := nc.URL
		if u == "" {
			u = nc.WebhookURL
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return pass("Notifiers", "none configured (terminal prompts only)")
	}

	client := &http.Client{Timeout: 3 * time.Second}
	unreachable := 0
	for _, u := range urls {
		req, err := http.NewRequest(http.MethodHead, u, nil)
		if err != nil {
			unreachable++
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			unreachable++
			continue
		}
		resp.Body.Close()
	}

	if unreachable > 0 {
		return warn("Notifiers", fmt.Sprintf("%d of %d endpoints unreachable", unreachable, len(urls)),
			"Verify webhook URLs in config.yaml and endpoint availability")
	}
	return pass("Notifiers", fmt.Sprintf("%d endpoints reachable", len(urls)))
}
