// Package registry maps tool names to their declared permissions.
// Unregistered tools are the engine's problem: it fails them closed.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mackeh/WardClaw/internal/capability"
	"gopkg.in/yaml.v3"
)

// Registry is the authoritative tool → permission mapping. Tools
// register at startup; registration is idempotent and a later
// registration for the same name overwrites the earlier one.
type Registry struct {
	mu    sync.RWMutex
	perms map[string]capability.ToolPermission
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{perms: make(map[string]capability.ToolPermission)}
}

// Register adds or overwrites a tool's permission declaration.
func (r *Registry) Register(perm capability.ToolPermission) error {
	if err := perm.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.perms[perm.ToolName] = perm
	return nil
}

// Lookup returns the permission for a tool, if registered.
func (r *Registry) Lookup(toolName string) (capability.ToolPermission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perm, ok := r.perms[toolName]
	return perm, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.perms))
	for name := range r.perms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.perms)
}

// LoadManifest reads and verifies a tool permission manifest
// (tool.yaml) and registers it.
func (r *Registry) LoadManifest(path string) (capability.ToolPermission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return capability.ToolPermission{}, fmt.Errorf("failed to read tool manifest: %w", err)
	}

	var perm capability.ToolPermission
	if err := yaml.Unmarshal(data, &perm); err != nil {
		return capability.ToolPermission{}, fmt.Errorf("failed to parse tool manifest: %w", err)
	}

	if err := r.Register(perm); err != nil {
		return capability.ToolPermission{}, fmt.Errorf("invalid manifest %s: %w", filepath.Base(path), err)
	}
	return perm, nil
}

// LoadManifests registers every *.yaml manifest in a directory. A
// missing directory is not an error; a bad manifest is.
func (r *Registry) LoadManifests(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read manifest directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if _, err := r.LoadManifest(filepath.Join(dir, entry.Name())); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
