// Package patterns implements the deny-list matcher: glob patterns for
// filesystem paths and regular expressions for shell commands.
package patterns

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// DefaultBlockedPaths are the path globs blocked out of the box. They
// cover system and credential locations; workspace-relative paths never
// resolve into them.
var DefaultBlockedPaths = []string{
	"/etc/*",
	"/sys/*",
	"/proc/*",
	"/boot/*",
	"/dev/*",
	"/bin/*",
	"/sbin/*",
	"/usr/bin/*",
	"/usr/sbin/*",
	"~/.ssh/*",
	"~/.aws/*",
	"~/.gnupg/*",
	"~/.kube/*",
}

// DefaultBlockedCommands are case-insensitive regexes matched against
// the raw command string. Substring semantics: a sudo prefix must not
// hide the payload.
var DefaultBlockedCommands = []string{
	`rm\s+-(rf|fr)\s+/`,
	`sudo\s+rm`,
	`mkfs`,
	`dd\s+if=.+of=/dev/`,
	`>\s*/dev/sd[a-z]`,
	`:\(\)\s*\{`,
	`curl\s+[^|]*\|\s*(ba|z)?sh`,
	`wget\s+[^|]*\|\s*(ba|z)?sh`,
	`chmod\s+(-[a-zA-Z]+\s+)*777\s+/`,
}

// Path argument keys probed in order. The first present string wins.
var pathKeys = []string{"path", "filePath", "directory", "dir", "file", "targetPath"}

// Command argument keys probed in order.
var commandKeys = []string{"command"}

// compiledPattern pairs a deny-list entry with its compiled form so a
// hit can be reported back in terms of the configured pattern.
type compiledPattern struct {
	raw string
	re  *regexp.Regexp
}

// Matcher holds the compiled deny-lists. Pattern updates are rare and
// checks are hot, so compiled forms are cached behind an RWMutex.
type Matcher struct {
	mu           sync.RWMutex
	pathPatterns []compiledPattern
	cmdPatterns  []compiledPattern
}

// NewMatcher compiles the given deny-lists. Invalid patterns are
// skipped with a warning rather than taking the engine down.
func NewMatcher(blockedPaths, blockedCommands []string) *Matcher {
	m := &Matcher{}
	m.SetBlockedPaths(blockedPaths)
	m.SetBlockedCommands(blockedCommands)
	return m
}

// SetBlockedPaths replaces the path deny-list.
func (m *Matcher) SetBlockedPaths(globs []string) {
	compiled := make([]compiledPattern, 0, len(globs))
	for _, g := range globs {
		re, err := CompileGlob(g)
		if err != nil {
			slog.Warn("skipping invalid blocked path pattern", "pattern", g, "error", err)
			continue
		}
		compiled = append(compiled, compiledPattern{raw: g, re: re})
	}
	m.mu.Lock()
	m.pathPatterns = compiled
	m.mu.Unlock()
}

// SetBlockedCommands replaces the command deny-list.
func (m *Matcher) SetBlockedCommands(exprs []string) {
	compiled := make([]compiledPattern, 0, len(exprs))
	for _, e := range exprs {
		re, err := regexp.Compile("(?i)" + e)
		if err != nil {
			slog.Warn("skipping invalid blocked command pattern", "pattern", e, "error", err)
			continue
		}
		compiled = append(compiled, compiledPattern{raw: e, re: re})
	}
	m.mu.Lock()
	m.cmdPatterns = compiled
	m.mu.Unlock()
}

// MatchBlockedPath returns the first blocked glob the candidate path
// matches, once expanded and resolved.
func (m *Matcher) MatchBlockedPath(path string) (string, bool) {
	resolved := NormalizePath(path)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pathPatterns {
		if p.re.MatchString(resolved) {
			return p.raw, true
		}
	}
	return "", false
}

// MatchBlockedCommand returns the first blocked command regex the raw
// command string matches.
func (m *Matcher) MatchBlockedCommand(command string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.cmdPatterns {
		if p.re.MatchString(command) {
			return p.raw, true
		}
	}
	return "", false
}

// IsBlockedPath reports whether the candidate path matches any blocked
// glob.
func (m *Matcher) IsBlockedPath(path string) bool {
	_, hit := m.MatchBlockedPath(path)
	return hit
}

// IsBlockedCommand reports whether the raw command string matches any
// blocked command regex.
func (m *Matcher) IsBlockedCommand(command string) bool {
	_, hit := m.MatchBlockedCommand(command)
	return hit
}

// ExtractPath pulls the most likely path argument out of a tool call.
// Absence is not an error: the caller skips the check.
func ExtractPath(args map[string]any) (string, bool) {
	return extract(args, pathKeys)
}

// ExtractCommand pulls the command argument out of a tool call.
func ExtractCommand(args map[string]any) (string, bool) {
	return extract(args, commandKeys)
}

func extract(args map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// NormalizePath expands a leading ~, absolutizes against the working
// directory, and cleans the result.
func NormalizePath(path string) string {
	path = ExpandHome(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// ExpandHome rewrites ~ and ~/... against the current user's home.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// CompileGlob translates a glob into an anchored, case-insensitive
// regex: every metacharacter escaped, * alone meaning "any run". The
// glob itself gets ~ expansion so home-relative patterns match
// resolved candidates. Grant scopes use the same translation.
func CompileGlob(glob string) (*regexp.Regexp, error) {
	expanded := ExpandHome(glob)
	quoted := regexp.QuoteMeta(expanded)
	pattern := "(?i)^" + strings.ReplaceAll(quoted, `\*`, `.*`) + "$"
	return regexp.Compile(pattern)
}
