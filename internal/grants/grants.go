// Package grants stores time-scoped capability grants per principal.
package grants

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mackeh/WardClaw/internal/patterns"
)

// GrantedBy records which actor issued a grant.
type GrantedBy string

const (
	GrantedByUser   GrantedBy = "user"
	GrantedByPolicy GrantedBy = "policy"
	GrantedByAuto   GrantedBy = "auto"
)

// DefaultPrincipal is the single principal of a non-multi-tenant
// deployment. The store is keyed so other principals remain possible.
const DefaultPrincipal = "default"

// Grant is one issued capability grant. A zero ExpiresAt means the
// grant is permanent.
type Grant struct {
	Category  string    `json:"category"`
	Scope     string    `json:"scope,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	GrantedBy GrantedBy `json:"granted_by"`
}

// Expired reports whether the grant has lapsed at the given instant.
func (g Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && !g.ExpiresAt.After(now)
}

// Options tune a Grant call. Zero values mean: permanent, the default
// principal, granted by the user.
type Options struct {
	Duration  time.Duration
	Principal string
	GrantedBy GrantedBy
}

// Store holds grants per principal behind a mutex. Persistence is
// best-effort: load on construction, save after mutation, failures are
// logged and swallowed.
type Store struct {
	mu     sync.RWMutex
	path   string
	grants map[string][]Grant
}

// NewStore creates a grant store. An empty path keeps the store purely
// in memory.
func NewStore(path string) *Store {
	s := &Store{
		path:   path,
		grants: make(map[string][]Grant),
	}
	if path != "" {
		if err := s.load(); err != nil {
			slog.Warn("could not load grant store, starting empty", "path", path, "error", err)
		}
	}
	return s
}

// Grant issues (or refreshes) a grant for the exact (category, scope)
// pair and returns it.
func (s *Store) Grant(category, scope string, opts Options) Grant {
	principal := opts.Principal
	if principal == "" {
		principal = DefaultPrincipal
	}
	grantedBy := opts.GrantedBy
	if grantedBy == "" {
		grantedBy = GrantedByUser
	}

	now := time.Now()
	g := Grant{
		Category:  category,
		Scope:     scope,
		GrantedAt: now,
		GrantedBy: grantedBy,
	}
	if opts.Duration > 0 {
		g.ExpiresAt = now.Add(opts.Duration)
	}

	s.mu.Lock()
	existing := s.grants[principal]
	replaced := false
	for i, old := range existing {
		if old.Category == category && old.Scope == scope {
			existing[i] = g
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, g)
	}
	s.grants[principal] = existing
	s.mu.Unlock()

	s.save()
	return g
}

// Revoke removes grants matching the exact (category, scope) pair for
// the principal. It reports whether anything was removed.
func (s *Store) Revoke(category, scope, principal string) bool {
	if principal == "" {
		principal = DefaultPrincipal
	}

	s.mu.Lock()
	existing := s.grants[principal]
	kept := existing[:0]
	removed := false
	for _, g := range existing {
		if g.Category == category && g.Scope == scope {
			removed = true
			continue
		}
		kept = append(kept, g)
	}
	if removed {
		if len(kept) == 0 {
			delete(s.grants, principal)
		} else {
			s.grants[principal] = kept
		}
	}
	s.mu.Unlock()

	if removed {
		s.save()
	}
	return removed
}

// HasGrant reports whether a non-expired grant with exactly this
// category covers the required scope. A requirement without a scope is
// satisfied by any grant of the category; a scoped requirement needs
// the grant's scope glob to fully match it.
func (s *Store) HasGrant(category, requiredScope, principal string) bool {
	if principal == "" {
		principal = DefaultPrincipal
	}
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants[principal] {
		if g.Category != category || g.Expired(now) {
			continue
		}
		if requiredScope == "" {
			return true
		}
		re, err := patterns.CompileGlob(g.Scope)
		if err != nil {
			continue
		}
		if re.MatchString(patterns.ExpandHome(requiredScope)) {
			return true
		}
	}
	return false
}

// Principals returns every principal with at least one stored grant,
// expired or not.
func (s *Store) Principals() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.grants))
	for p := range s.grants {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// List returns the principal's live grants, pruning expired ones.
func (s *Store) List(principal string) []Grant {
	if principal == "" {
		principal = DefaultPrincipal
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.grants[principal]
	kept := make([]Grant, 0, len(existing))
	for _, g := range existing {
		if !g.Expired(now) {
			kept = append(kept, g)
		}
	}
	if len(kept) == 0 {
		delete(s.grants, principal)
	} else {
		s.grants[principal] = kept
	}

	out := make([]Grant, len(kept))
	copy(out, kept)
	return out
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var grants map[string][]Grant
	if err := json.Unmarshal(data, &grants); err != nil {
		return fmt.Errorf("parsing grant store: %w", err)
	}
	s.grants = grants
	if s.grants == nil {
		s.grants = make(map[string][]Grant)
	}
	return nil
}

// save is best-effort: a failed write must never fail the grant.
func (s *Store) save() {
	if s.path == "" {
		return
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(s.grants, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		slog.Warn("could not encode grant store", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		slog.Warn("could not create grant store directory", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		slog.Warn("could not persist grant store", "path", s.path, "error", err)
	}
}
