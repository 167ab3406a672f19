package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VaultConfig holds the connection settings for a HashiCorp Vault
// backend.
type VaultConfig struct {
	Address  string `yaml:"address"`   // e.g. "https://vault.example.com"
	TokenEnv string `yaml:"token_env"` // env var name holding the token (e.g. "VAULT_TOKEN")
	Mount    string `yaml:"mount"`     // KV mount path (e.g. "secret")
	Path     string `yaml:"path"`      // base path within the mount (e.g. "wardclaw")
}

// VaultStore implements Store against Vault's KV v2 HTTP API. Each
// secret lives at <mount>/data/<path>/<key> with the material in a
// single "value" field. Deletes go through the metadata endpoint so
// every version disappears at once.
type VaultStore struct {
	address string
	token   string
	mount   string
	path    string
	client  *http.Client
}

// NewVaultStore resolves the token from the environment and returns a
// ready store. The token itself never appears in config.yaml; only the
// name of the variable holding it does.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	env := cfg.TokenEnv
	if env == "" {
		env = "VAULT_TOKEN"
	}
	token := os.Getenv(env)
	if token == "" {
		return nil, fmt.Errorf("vault token not found in environment variable %s", env)
	}

	v := &VaultStore{
		address: strings.TrimRight(cfg.Address, "/"),
		token:   token,
		mount:   cfg.Mount,
		path:    cfg.Path,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	if v.mount == "" {
		v.mount = "secret"
	}
	if v.path == "" {
		v.path = "wardclaw"
	}
	return v, nil
}

func (v *VaultStore) dataURL(key string) string {
	return fmt.Sprintf("%s/v1/%s/data/%s/%s", v.address, v.mount, v.path, key)
}

func (v *VaultStore) metadataURL(key string) string {
	url := fmt.Sprintf("%s/v1/%s/metadata/%s", v.address, v.mount, v.path)
	if key != "" {
		url += "/" + key
	}
	return url
}

// do runs one authenticated request and decodes the response into out
// when the call returns 200 and out is non-nil.
func (v *VaultStore) do(method, url string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Vault-Token", v.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("vault request failed: %w", err)
	}
	defer res.Body.Close()

	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return res.StatusCode, fmt.Errorf("failed to decode vault response: %w", err)
		}
	}
	return res.StatusCode, nil
}

// Get reads the "value" field of the secret at key.
func (v *VaultStore) Get(key string) (string, error) {
	var out struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}

	status, err := v.do(http.MethodGet, v.dataURL(key), nil, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", fmt.Errorf("secret %q not found", key)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("vault returned status %d", status)
	}

	raw, ok := out.Data.Data["value"]
	if !ok {
		return "", fmt.Errorf("secret %q has no value field", key)
	}
	return fmt.Sprintf("%v", raw), nil
}

// Set writes the value, creating a new KV version.
func (v *VaultStore) Set(key, value string) error {
	payload := map[string]any{
		"data": map[string]string{"value": value},
	}

	status, err := v.do(http.MethodPost, v.dataURL(key), payload, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("vault returned status %d", status)
	}
	return nil
}

// Delete removes the secret and all of its versions. Deleting a key
// that does not exist is not an error.
func (v *VaultStore) Delete(key string) error {
	status, err := v.do(http.MethodDelete, v.metadataURL(key), nil, nil)
	if err != nil {
		return err
	}
	if status >= 400 && status != http.StatusNotFound {
		return fmt.Errorf("vault returned status %d", status)
	}
	return nil
}

// List enumerates the keys under the store's base path. An empty or
// absent path lists as no keys.
func (v *VaultStore) List() ([]string, error) {
	var out struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}

	// KV v2 enumerates via the custom LIST verb on the metadata path.
	status, err := v.do("LIST", v.metadataURL(""), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []string{}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("vault returned status %d", status)
	}
	return out.Data.Keys, nil
}
