package redactor

import (
	"strings"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"userPassword", true},
		{"apiKey", true},
		{"API_TOKEN", true},
		{"clientSecret", true},
		{"sshKey", true},
		{"credentials", true},
		{"path", false},
		{"command", false},
		{"content", false},
		{"monkey", true}, // contains "key"; conservative by intent
	}

	for _, tt := range tests {
		if got := IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSanitizeArgs_RedactsSensitiveKeys(t *testing.T) {
	args := map[string]any{
		"path":     "/tmp/out.txt",
		"password": "hunter2",
		"apiKey":   "sk-123456",
		"count":    3,
	}

	got := SanitizeArgs(args)
	if got["password"] != Redacted {
		t.Errorf("password = %v, want %q", got["password"], Redacted)
	}
	if got["apiKey"] != Redacted {
		t.Errorf("apiKey = %v, want %q", got["apiKey"], Redacted)
	}
	if got["path"] != "/tmp/out.txt" {
		t.Errorf("path = %v, want unchanged", got["path"])
	}
	if got["count"] != 3 {
		t.Errorf("count = %v, want unchanged", got["count"])
	}

	if args["password"] != "hunter2" {
		t.Error("input map was mutated")
	}
}

func TestSanitizeArgs_TruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("a", 600)
	got := SanitizeArgs(map[string]any{"note": long})

	s, ok := got["note"].(string)
	if !ok {
		t.Fatalf("note is %T, want string", got["note"])
	}
	if !strings.HasSuffix(s, "...[truncated]") {
		t.Errorf("truncated value missing marker: %q", s[len(s)-20:])
	}
	if len(s) != MaxStringLen+len("...[truncated]") {
		t.Errorf("truncated length = %d", len(s))
	}
}

func TestSanitizeArgs_ShortStringsUntouched(t *testing.T) {
	exact := strings.Repeat("b", MaxStringLen)
	got := SanitizeArgs(map[string]any{"note": exact})
	if got["note"] != exact {
		t.Error("a string of exactly the limit must pass through")
	}
}

func TestSanitizeArgs_Nil(t *testing.T) {
	got := SanitizeArgs(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("SanitizeArgs(nil) = %v, want empty map", got)
	}
}

func TestRedactor_Redact(t *testing.T) {
	r := New("s3cr3t-value")

	got := r.Redact("curl -H 'Authorization: s3cr3t-value' https://api")
	if strings.Contains(got, "s3cr3t-value") {
		t.Error("secret value survived redaction")
	}
	if !strings.Contains(got, Redacted) {
		t.Error("redaction marker missing")
	}
}

func TestRedactor_IgnoresShortSecrets(t *testing.T) {
	r := New("ls")
	if got := r.Redact("ls -la"); got != "ls -la" {
		t.Errorf("short secret should be ignored, got %q", got)
	}
}

func TestRedactor_SanitizeArgs_ValueBeforeTruncation(t *testing.T) {
	secret := strings.Repeat("x", 40)
	r := New(secret)

	// Secret sits across the 500-char cut; it must be scrubbed first.
	val := strings.Repeat("a", 480) + secret + strings.Repeat("b", 200)
	got := r.SanitizeArgs(map[string]any{"body": val})

	s := got["body"].(string)
	if strings.Contains(s, "x") {
		t.Error("secret fragment survived truncation")
	}
	if !strings.Contains(s, Redacted) {
		t.Error("expected redaction marker in sanitized value")
	}
}
