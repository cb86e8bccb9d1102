// Package secrets copies provider credentials from a Vault KV secret into
// the process environment before configuration is loaded.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// VaultConfig locates the KV secret holding the journey service credentials
type VaultConfig struct {
	Enabled   bool          `envconfig:"ENABLED" default:"false"`
	Addr      string        `envconfig:"ADDR"`
	Token     string        `envconfig:"TOKEN"`
	Namespace string        `envconfig:"NAMESPACE"`
	Mount     string        `envconfig:"MOUNT" default:"secret"`
	Path      string        `envconfig:"SECRET_PATH" default:"patient-journey"`
	KVVersion int           `envconfig:"KV_VERSION" default:"2"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"5s"`
	// Overwrite replaces variables already set in the environment.
	Overwrite bool `envconfig:"OVERWRITE" default:"false"`
}

// Result summarises what a load did
type Result struct {
	Enabled bool
	Path    string
	Loaded  []string
	Skipped []string
}

// LoadConfig reads VAULT_* variables
func LoadConfig() (VaultConfig, error) {
	var cfg VaultConfig
	if err := envconfig.Process("VAULT", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to process vault environment: %w", err)
	}
	return cfg, nil
}

// Load reads VAULT_* and, when enabled, applies the secret's keys as
// environment variables. Keys are the variable names config.Load reads,
// e.g. PAYMENTS_WEBHOOK_SECRET or RESEND_API_KEY.
func Load(ctx context.Context) (Result, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Result{}, err
	}
	return Apply(ctx, cfg, http.DefaultClient)
}

// Apply fetches the secret described by cfg and exports it
func Apply(ctx context.Context, cfg VaultConfig, client *http.Client) (Result, error) {
	result := Result{Enabled: cfg.Enabled, Path: cfg.Path}
	if !cfg.Enabled {
		return result, nil
	}
	if cfg.Addr == "" || cfg.Token == "" {
		return result, errors.New("vault is enabled but VAULT_ADDR or VAULT_TOKEN is missing")
	}

	data, err := fetch(ctx, cfg, client)
	if err != nil {
		return result, err
	}

	for key, value := range data {
		if !cfg.Overwrite && os.Getenv(key) != "" {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if err := os.Setenv(key, stringify(value)); err != nil {
			return result, fmt.Errorf("failed to export %s: %w", key, err)
		}
		result.Loaded = append(result.Loaded, key)
	}
	return result, nil
}

func fetch(ctx context.Context, cfg VaultConfig, client *http.Client) (map[string]interface{}, error) {
	url, err := secretURL(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.Namespace)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read vault response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	// KV v1 nests the secret once under data, v2 twice
	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode vault response: %w", err)
	}
	if cfg.KVVersion != 1 {
		var inner struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(payload.Data, &inner); err != nil {
			return nil, fmt.Errorf("failed to decode vault KV v2 data: %w", err)
		}
		payload.Data = inner.Data
	}

	var data map[string]interface{}
	if err := json.Unmarshal(payload.Data, &data); err != nil || data == nil {
		return nil, fmt.Errorf("vault secret %s has no data", cfg.Path)
	}
	return data, nil
}

func secretURL(cfg VaultConfig) (string, error) {
	addr := strings.TrimRight(cfg.Addr, "/")
	mount := strings.Trim(cfg.Mount, "/")
	path := strings.Trim(cfg.Path, "/")
	if mount == "" || path == "" {
		return "", errors.New("VAULT_MOUNT and VAULT_SECRET_PATH must be set")
	}
	if cfg.KVVersion == 1 {
		return fmt.Sprintf("%s/v1/%s/%s", addr, mount, path), nil
	}
	return fmt.Sprintf("%s/v1/%s/data/%s", addr, mount, path), nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(encoded)
	}
}
