// Package secrets stores sensitive values (webhook signing secrets,
// server API keys) encrypted at rest with age. A Manager owns one
// identity file and one encrypted blob under the config directory.
package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"filippo.io/age"
)

// Manager handles secret encryption and storage.
type Manager struct {
	configDir string
	keyFile   string
	encFile   string
}

// NewManager creates a secrets manager rooted at configDir.
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir: configDir,
		keyFile:   filepath.Join(configDir, "keys.txt"),
		encFile:   filepath.Join(configDir, "secrets.enc"),
	}
}

// Init generates a new age identity (keypair) and returns the public
// key. It refuses to overwrite an existing keypair.
func (m *Manager) Init() (string, error) {
	if _, err := os.Stat(m.keyFile); err == nil {
		return "", fmt.Errorf("keys already exist at %s", m.keyFile)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("failed to generate identity: %w", err)
	}

	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create secrets directory: %w", err)
	}

	f, err := os.OpenFile(m.keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create key file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "# Public key: %s\n", identity.Recipient()); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(f, "%s\n", identity); err != nil {
		return "", err
	}

	return identity.Recipient().String(), nil
}

// Set stores a secret, overwriting any existing value for the key.
func (m *Manager) Set(key, value string) error {
	all, err := m.loadAll()
	if err != nil {
		return err
	}
	all[key] = value
	return m.saveAll(all)
}

// Get retrieves a secret by key.
func (m *Manager) Get(key string) (string, error) {
	all, err := m.loadAll()
	if err != nil {
		return "", err
	}
	val, ok := all[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return val, nil
}

// Delete removes a secret. Deleting an absent key is not an error.
func (m *Manager) Delete(key string) error {
	all, err := m.loadAll()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return m.saveAll(all)
}

// List returns the stored secret names (never values), sorted. Before
// any secret has been stored it returns an empty list.
func (m *Manager) List() ([]string, error) {
	if _, err := os.Stat(m.encFile); os.IsNotExist(err) {
		return []string{}, nil
	}
	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// GetRecipient returns the public key for the managed identity.
func (m *Manager) GetRecipient() (string, error) {
	id, err := m.identity()
	if err != nil {
		return "", err
	}
	return id.Recipient().String(), nil
}

// identity loads the X25519 identity from the key file.
func (m *Manager) identity() (*age.X25519Identity, error) {
	f, err := os.Open(m.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys (did you run 'wardclaw secrets init'?): %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key file: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no usable identity in %s", m.keyFile)
}

// loadAll decrypts the secrets blob. A missing blob is an empty map.
func (m *Manager) loadAll() (map[string]string, error) {
	data, err := os.ReadFile(m.encFile)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	id, err := m.identity()
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(data), id)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	all := make(map[string]string)
	if err := json.Unmarshal(plain, &all); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return all, nil
}

// saveAll encrypts and writes the full secrets map.
func (m *Manager) saveAll(all map[string]string) error {
	id, err := m.identity()
	if err != nil {
		return err
	}

	plain, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, id.Recipient())
	if err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	if err := os.WriteFile(m.encFile, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write secrets: %w", err)
	}
	return nil
}
