package secrets

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// initManager returns a Manager with a fresh identity in a temp dir.
func initManager(t *testing.T) (*Manager, string) {
	t.Helper()
	tmp := t.TempDir()
	mgr := NewManager(tmp)
	if _, err := mgr.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return mgr, tmp
}

func TestInitGeneratesIdentity(t *testing.T) {
	tmp := t.TempDir()
	mgr := NewManager(tmp)

	pub, err := mgr.Init()
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.HasPrefix(pub, "age1") {
		t.Errorf("public key = %q, want an age1... recipient", pub)
	}

	info, err := os.Stat(filepath.Join(tmp, "keys.txt"))
	if err != nil {
		t.Fatalf("stat keys.txt: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("keys.txt mode = %o, want 0600", info.Mode().Perm())
	}

	if _, err := mgr.Init(); err == nil {
		t.Fatal("second init should refuse to overwrite the keypair")
	}
}

func TestGetRecipientMatchesInit(t *testing.T) {
	tmp := t.TempDir()
	mgr := NewManager(tmp)

	pub, err := mgr.Init()
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	got, err := mgr.GetRecipient()
	if err != nil {
		t.Fatalf("recipient: %v", err)
	}
	if got != pub {
		t.Errorf("recipient = %q, want the key returned by Init %q", got, pub)
	}
}

func TestSetGetDelete(t *testing.T) {
	mgr, _ := initManager(t)

	stored := map[string]string{
		"WEBHOOK_SECRET":    "whsec_8d02aa11",
		"SLACK_WEBHOOK_URL": "https://hooks.slack.com/services/T0/B0/x",
		"SERVER_TOKEN":      "tok-operator-1",
	}
	for k, v := range stored {
		if err := mgr.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	for k, v := range stored {
		got, err := mgr.Get(k)
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if got != v {
			t.Errorf("get %s = %q, want %q", k, got, v)
		}
	}

	// Setting an existing key replaces the value instead of adding.
	if err := mgr.Set("SERVER_TOKEN", "tok-operator-2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := mgr.Get("SERVER_TOKEN"); got != "tok-operator-2" {
		t.Errorf("after overwrite got %q, want tok-operator-2", got)
	}

	if err := mgr.Delete("WEBHOOK_SECRET"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := mgr.Get("WEBHOOK_SECRET"); err == nil {
		t.Error("deleted secret should not resolve")
	}
	// Deleting the same key twice is a no-op.
	if err := mgr.Delete("WEBHOOK_SECRET"); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
}

func TestGetUnknownKey(t *testing.T) {
	mgr, _ := initManager(t)

	if err := mgr.Set("SLACK_WEBHOOK_URL", "https://hooks.slack.com/x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := mgr.Get("NO_SUCH_SECRET"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestListSorted(t *testing.T) {
	mgr, _ := initManager(t)

	for _, k := range []string{"ZULU", "ALPHA", "MIKE"} {
		if err := mgr.Set(k, "v"); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	keys, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"ALPHA", "MIKE", "ZULU"}
	if len(keys) != len(want) {
		t.Fatalf("list = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestListBeforeFirstSecret(t *testing.T) {
	// No Init, no blob on disk.
	mgr := NewManager(t.TempDir())

	keys, err := mgr.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("list on empty store = %v, want none", keys)
	}
}

func TestAgeStoreImplementsStore(t *testing.T) {
	tmp := t.TempDir()
	if _, err := NewManager(tmp).Init(); err != nil {
		t.Fatalf("init: %v", err)
	}

	var store Store = NewAgeStore(tmp)

	if err := store.Set("API_KEY", "sk-ward-001"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := store.Get("API_KEY")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "sk-ward-001" {
		t.Errorf("get = %q, want sk-ward-001", val)
	}

	keys, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0] != "API_KEY" {
		t.Errorf("list = %v, want [API_KEY]", keys)
	}

	if err := store.Delete("API_KEY"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if keys, _ := store.List(); len(keys) != 0 {
		t.Errorf("list after delete = %v, want none", keys)
	}
}

func TestVaultStore_MissingToken(t *testing.T) {
	os.Unsetenv("VAULT_TOKEN_TEST_MISSING")
	_, err := NewVaultStore(VaultConfig{
		Address:  "https://vault.example.com",
		TokenEnv: "VAULT_TOKEN_TEST_MISSING",
	})
	if err == nil {
		t.Fatal("expected error for missing vault token")
	}
}

func TestVaultStore_NewWithDefaults(t *testing.T) {
	t.Setenv("VAULT_TOKEN_TEST", "test-token")
	store, err := NewVaultStore(VaultConfig{
		Address:  "https://vault.example.com",
		TokenEnv: "VAULT_TOKEN_TEST",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.mount != "secret" {
		t.Errorf("expected default mount 'secret', got '%s'", store.mount)
	}
	if store.path != "wardclaw" {
		t.Errorf("expected default path 'wardclaw', got '%s'", store.path)
	}
}

func TestSecretsEncryptedAtRest(t *testing.T) {
	mgr, tmp := initManager(t)

	if err := mgr.Set("WEBHOOK_SECRET", "hunter2-hunter2"); err != nil {
		t.Fatalf("set error: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(tmp, "secrets.enc"))
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if strings.Contains(string(raw), "hunter2-hunter2") {
		t.Error("secret value stored in plaintext")
	}
}

func TestOpen(t *testing.T) {
	tmp := t.TempDir()

	store, err := Open("age", tmp, VaultConfig{})
	if err != nil {
		t.Fatalf("open age: %v", err)
	}
	if _, ok := store.(*AgeStore); !ok {
		t.Errorf("expected *AgeStore, got %T", store)
	}

	if _, err := Open("sops", tmp, VaultConfig{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
