// Package audit provides the append-only, tamper-evident execution log
// for WardClaw. Entries are sanitized before they are stored, held in a
// bounded in-memory ring, and persisted best-effort as a JSON array.
package audit

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mackeh/WardClaw/internal/capability"
	"github.com/mackeh/WardClaw/internal/security/redactor"
	"github.com/mackeh/WardClaw/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Result is the outcome recorded for one execution attempt.
type Result string

const (
	ResultApproved     Result = "approved"
	ResultDenied       Result = "denied"
	ResultAutoApproved Result = "auto-approved"
)

// Source records which actor resolved the attempt.
type Source string

const (
	SourceUser   Source = "user"
	SourcePolicy Source = "policy"
	SourceAuto   Source = "auto"
)

const (
	// maxEntries bounds the in-memory ring; the oldest entry is evicted
	// first.
	maxEntries = 1000
	// maxPersisted bounds the rewritten file.
	maxPersisted = 500

	genesisHash = "genesis"
)

// Entry is a single audit record. PrevHash/Hash form a sha256 chain so
// tampering inside the retained window is detectable.
type Entry struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	ToolName       string         `json:"tool_name"`
	Capabilities   []string       `json:"capabilities"`
	SanitizedArgs  map[string]any `json:"sanitized_args,omitempty"`
	Result         Result         `json:"result"`
	ApprovalSource Source         `json:"approval_source"`
	PrincipalID    string         `json:"principal_id,omitempty"`
	PrevHash       string         `json:"prev_hash"`
	Hash           string         `json:"hash"`
}

// Log is the audit log. All mutation happens under the mutex; disk
// writes happen on a background goroutine so decisions never wait on
// I/O.
type Log struct {
	mu       sync.Mutex
	path     string
	entries  []Entry
	lastHash string
	redact   *redactor.Redactor

	flushCh chan struct{}
	done    chan struct{}
	stopped sync.WaitGroup
	closed  bool
}

// Option configures a Log.
type Option func(*Log)

// WithRedactor scrubs known secret values from argument strings in
// addition to the key-based sanitization.
func WithRedactor(r *redactor.Redactor) Option {
	return func(l *Log) { l.redact = r }
}

// NewLog creates an audit log persisted at path. An empty path keeps
// the log purely in memory. Existing persisted entries are loaded; a
// missing or corrupt file means starting empty, never an error.
func NewLog(path string, opts ...Option) *Log {
	l := &Log{
		path:     path,
		lastHash: genesisHash,
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if path != "" {
		l.loadExisting()
		l.stopped.Add(1)
		go l.flusher()
	}
	return l
}

// LogExecution records one execution attempt and returns the entry.
// Exactly one entry per attempt is the engine's contract; callers go
// through warden.Manager which enforces it.
func (l *Log) LogExecution(toolName string, caps []capability.Capability, args map[string]any, result Result, source Source, principal string) Entry {
	sanitized := l.sanitize(args)

	l.mu.Lock()
	entry := Entry{
		ID:             newEntryID(),
		Timestamp:      time.Now().UTC(),
		ToolName:       toolName,
		Capabilities:   capability.Names(caps),
		SanitizedArgs:  sanitized,
		Result:         result,
		ApprovalSource: source,
		PrincipalID:    principal,
		PrevHash:       l.lastHash,
	}
	entry.Hash = computeHash(entry)
	l.lastHash = entry.Hash

	if len(l.entries) >= maxEntries {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
	l.mu.Unlock()

	telemetry.AuditEntriesTotal.WithLabelValues(string(result)).Inc()
	l.scheduleFlush()
	return entry
}

// Recent returns up to limit entries, oldest first within the window.
// A non-positive limit returns everything retained.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, limit)
	copy(out, l.entries[n-limit:])
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify walks the retained chain: every hash must recompute and every
// link must hold. The first entry's PrevHash is the window anchor and
// is accepted as-is, since flushing truncates history.
func (l *Log) Verify() error {
	l.mu.Lock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	return verifyChain(entries)
}

// Flush synchronously rewrites the persisted file with the most recent
// entries. Callers on the decision path use scheduleFlush instead.
func (l *Log) Flush() error {
	if l.path == "" {
		return nil
	}
	timer := prometheus.NewTimer(telemetry.AuditFlushDuration)
	defer timer.ObserveDuration()

	l.mu.Lock()
	n := len(l.entries)
	keep := n
	if keep > maxPersisted {
		keep = maxPersisted
	}
	window := make([]Entry, keep)
	copy(window, l.entries[n-keep:])
	l.mu.Unlock()

	data, err := json.MarshalIndent(window, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close drains pending flushes and stops the background writer.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	close(l.done)
	l.stopped.Wait()
	return l.Flush()
}

func (l *Log) sanitize(args map[string]any) map[string]any {
	if l.redact != nil {
		return l.redact.SanitizeArgs(args)
	}
	return redactor.SanitizeArgs(args)
}

// scheduleFlush coalesces: at most one flush is pending at a time.
func (l *Log) scheduleFlush() {
	if l.path == "" {
		return
	}
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// flusher serializes disk writes off the decision path. Failures are
// logged and swallowed: a full disk must not stop the engine.
func (l *Log) flusher() {
	defer l.stopped.Done()
	for {
		select {
		case <-l.flushCh:
			if err := l.Flush(); err != nil {
				slog.Warn("audit flush failed", "path", l.path, "error", err)
			}
		case <-l.done:
			return
		}
	}
}

func (l *Log) loadExisting() {
	entries, err := ReadAll(l.path)
	if err != nil {
		slog.Warn("could not load audit log, starting empty", "path", l.path, "error", err)
		return
	}
	if len(entries) > maxEntries {
		entries = entries[len(entries)-maxEntries:]
	}
	l.entries = entries
	if len(entries) > 0 {
		l.lastHash = entries[len(entries)-1].Hash
	}
}

// ReadAll reads persisted entries. A missing file is an empty log; a
// corrupt file is an error the caller may choose to ignore.
func ReadAll(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse audit log: %w", err)
	}
	return entries, nil
}

// VerifyFile checks the persisted chain without constructing a Log.
func VerifyFile(path string) error {
	entries, err := ReadAll(path)
	if err != nil {
		return err
	}
	return verifyChain(entries)
}

func verifyChain(entries []Entry) error {
	for i, e := range entries {
		if computeHash(e) != e.Hash {
			return fmt.Errorf("entry %d (%s): content does not match its hash", i, e.ID)
		}
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return fmt.Errorf("entry %d (%s): chain broken", i, e.ID)
		}
	}
	return nil
}

// computeHash covers every field except Hash itself. Maps marshal with
// sorted keys, so the digest is stable across encode/decode cycles.
func computeHash(entry Entry) string {
	hashInput := struct {
		ID             string         `json:"id"`
		Timestamp      time.Time      `json:"timestamp"`
		ToolName       string         `json:"tool_name"`
		Capabilities   []string       `json:"capabilities"`
		SanitizedArgs  map[string]any `json:"sanitized_args,omitempty"`
		Result         Result         `json:"result"`
		ApprovalSource Source         `json:"approval_source"`
		PrincipalID    string         `json:"principal_id,omitempty"`
		PrevHash       string         `json:"prev_hash"`
	}{
		ID:             entry.ID,
		Timestamp:      entry.Timestamp,
		ToolName:       entry.ToolName,
		Capabilities:   entry.Capabilities,
		SanitizedArgs:  entry.SanitizedArgs,
		Result:         entry.Result,
		ApprovalSource: entry.ApprovalSource,
		PrincipalID:    entry.PrincipalID,
		PrevHash:       entry.PrevHash,
	}

	data, _ := json.Marshal(hashInput)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// newEntryID builds a millisecond timestamp plus a random suffix,
// unique enough for log correlation without coordination.
func newEntryID() string {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return fmt.Sprintf("%d-%08x", time.Now().UnixMilli(), time.Now().UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(suffix[:]))
}
