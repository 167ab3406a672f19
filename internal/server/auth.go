package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mackeh/WardClaw/internal/config"
)

// Role is an RBAC level for API access.
type Role string

const (
	RoleAdmin    Role = "admin"    // policy mutation, lockdown
	RoleOperator Role = "operator" // approvals, grants, check, view
	RoleViewer   Role = "viewer"   // read-only
)

// rank orders roles so a higher role implies every lower one.
func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// ParseRole maps a configured role string to a Role. Unknown strings
// get the least privileged role rather than failing open.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(s)) {
	case RoleAdmin:
		return RoleAdmin
	case RoleOperator:
		return RoleOperator
	default:
		return RoleViewer
	}
}

// AuthMiddleware enforces API key authentication and RBAC. With auth
// disabled every request passes through untouched.
func AuthMiddleware(cfg config.AuthConfig, need Role, next http.HandlerFunc) http.HandlerFunc {
	if !cfg.Enabled {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		role, ok := resolveKey(cfg.Keys, token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		if !hasPermission(role, need) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next(w, r)
	}
}

// requestToken pulls the API token out of the request: Bearer header
// first, then X-API-Key, then the api_key query parameter for
// WebSocket clients that cannot set headers.
func requestToken(r *http.Request) string {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return tok
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// resolveKey finds the role for a presented token. Comparison is
// constant time per key. A key whose secret never resolved has an
// empty token and must not match anything.
func resolveKey(keys []config.APIKey, token string) (Role, bool) {
	for _, k := range keys {
		if k.Token == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(k.Token), []byte(token)) == 1 {
			return ParseRole(k.Role), true
		}
	}
	return "", false
}

func hasPermission(have, need Role) bool {
	return have.rank() >= need.rank()
}
