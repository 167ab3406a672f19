// Package redactor scrubs sensitive material from tool-call arguments
// before they reach the audit log or an approval prompt.
package redactor

import (
	"strings"
	"sync"
)

// Redacted replaces values under sensitive keys and known secret values.
const Redacted = "[REDACTED]"

// MaxStringLen caps string argument values; longer values are truncated
// with a marker so audit entries stay bounded.
const MaxStringLen = 500

const truncationMarker = "...[truncated]"

// sensitiveKeyParts flag an argument key as sensitive when any of them
// appears as a case-insensitive substring.
var sensitiveKeyParts = []string{
	"password",
	"token",
	"secret",
	"key",
	"apikey",
	"credential",
}

// IsSensitiveKey reports whether an argument key should never be logged
// verbatim.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Truncate bounds a string value, appending a marker when it was cut.
func Truncate(s string) string {
	if len(s) <= MaxStringLen {
		return s
	}
	return s[:MaxStringLen] + truncationMarker
}

// SanitizeArgs returns a copy of the arguments safe for logging:
// sensitive keys redacted, long string values truncated. The input is
// never mutated; nil yields an empty map.
func SanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = Truncate(s)
			continue
		}
		out[k] = v
	}
	return out
}

// Redactor additionally scrubs known secret values wherever they show
// up, even under innocent keys. Secrets shorter than five characters
// are ignored to avoid false positives on common words.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

// New creates a Redactor with an initial list of secret values.
func New(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		r.Add(s)
	}
	return r
}

// Add registers a secret value for scrubbing.
func (r *Redactor) Add(secret string) {
	if len(secret) <= 4 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = append(r.secrets, secret)
}

// Redact replaces all known secret values in the input.
func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := input
	for _, secret := range r.secrets {
		if strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, Redacted)
		}
	}
	return result
}

// SanitizeArgs sanitizes like the package-level function but scrubs
// known secret values first, so a secret can never straddle the
// truncation cut.
func (r *Redactor) SanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = Truncate(r.Redact(s))
			continue
		}
		out[k] = v
	}
	return out
}
