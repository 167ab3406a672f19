package secrets

import "fmt"

// Store is a pluggable secret backend. Keys are safe to print; values
// never are. List returns key names only. AgeStore is the default
// backend, VaultStore the remote one.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	List() ([]string, error)
}

// AgeStore is the local age-encrypted backend. The embedded Manager
// already has the Store shape, so it satisfies the interface directly.
type AgeStore struct {
	*Manager
}

// NewAgeStore creates a Store backed by age encryption.
func NewAgeStore(configDir string) *AgeStore {
	return &AgeStore{NewManager(configDir)}
}

// Open selects a backend by name: "age" (or empty) for the local
// encrypted store, "vault" for HashiCorp Vault.
func Open(backend, configDir string, vault VaultConfig) (Store, error) {
	switch backend {
	case "", "age":
		return NewAgeStore(configDir), nil
	case "vault":
		return NewVaultStore(vault)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
}
