package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets struct {
	value string
	err   error
}

func (m mockSecrets) Get(service, account string) (string, error) {
	return m.value, m.err
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearTokenEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ALIBI_PROVIDER_API_TOKEN", "")
	t.Setenv("HUGGINGFACE_API_TOKEN", "")
}

func loadFromPath(path string, secrets secretStore) (Config, error) {
	return loadWith(newFileBackend(path), secrets)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	clearTokenEnv(t)

	cfg, err := loadFromPath(path, mockSecrets{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Provider.Endpoint != defaultProviderEndpoint {
		t.Errorf("Provider.Endpoint = %q", cfg.Provider.Endpoint)
	}
	if cfg.Provider.MaxNewTokens != 100 || cfg.Provider.Temperature != 0.7 || cfg.Provider.TopP != 0.9 {
		t.Errorf("Provider parameters = %+v", cfg.Provider)
	}
	if !cfg.Storage.HistoryEnabled {
		t.Error("Storage.HistoryEnabled = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.ArtifactTTL() != 24*time.Hour {
		t.Errorf("ArtifactTTL = %v, want 24h", cfg.ArtifactTTL())
	}
	if cfg.Provider.APIToken != "" {
		t.Errorf("APIToken = %q, want empty", cfg.Provider.APIToken)
	}
}

// TestFileValues verifies that all typed fields are read from the JSON file.
func TestFileValues(t *testing.T) {
	path := writeTempConfig(t, `{
  "server.port": 6100,
  "server.rate_limit_rps": "0.5",
  "provider.endpoint": "http://localhost:9999/generate",
  "provider.temperature": 0.2,
  "storage.data_dir": "/tmp/alibi-test",
  "storage.history_enabled": "false",
  "proof.font_paths": "/a.ttf, /b.ttf",
  "provider.api_token": "ignored-in-file"
}`)
	clearTokenEnv(t)

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6100 {
		t.Errorf("Server.Port = %d, want 6100", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS != 0.5 {
		t.Errorf("RateLimitRPS = %v, want 0.5", cfg.Server.RateLimitRPS)
	}
	if cfg.Provider.Endpoint != "http://localhost:9999/generate" {
		t.Errorf("Provider.Endpoint = %q", cfg.Provider.Endpoint)
	}
	if cfg.Provider.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", cfg.Provider.Temperature)
	}
	if cfg.Storage.DataDir != "/tmp/alibi-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.HistoryEnabled {
		t.Error("HistoryEnabled = true, want false")
	}
	if got := cfg.FontPaths(); len(got) != 2 || got[0] != "/a.ttf" || got[1] != "/b.ttf" {
		t.Errorf("FontPaths = %q", got)
	}
	if cfg.Provider.APIToken != "" {
		t.Errorf("token must not be read from the config file, got %q", cfg.Provider.APIToken)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `{"server.port": 6100, "log.level": "info"}`)

	t.Setenv("ALIBI_SERVER_PORT", "7200")
	t.Setenv("ALIBI_LOG_LEVEL", "debug")
	t.Setenv("ALIBI_PROVIDER_API_TOKEN", "env-token")
	t.Setenv("HUGGINGFACE_API_TOKEN", "legacy-token")

	cfg, err := loadFromPath(path, mockSecrets{value: "file-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7200 {
		t.Errorf("Server.Port = %d, want 7200", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Provider.APIToken != "env-token" {
		t.Errorf("APIToken = %q, want env-token", cfg.Provider.APIToken)
	}
}

// TestInvalidEnvKeepsValue verifies unparseable env values fall back to the previous value.
func TestInvalidEnvKeepsValue(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	t.Setenv("ALIBI_SERVER_PORT", "not-a-port")
	t.Setenv("ALIBI_STORAGE_HISTORY_ENABLED", "maybe")

	cfg, err := loadFromPath(path, mockSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if !cfg.Storage.HistoryEnabled {
		t.Error("HistoryEnabled changed by invalid env value")
	}
}

func TestLegacyTokenEnv(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	t.Setenv("ALIBI_PROVIDER_API_TOKEN", "")
	t.Setenv("HUGGINGFACE_API_TOKEN", "hf_legacy")

	cfg, err := loadFromPath(path, mockSecrets{value: "file-secret"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIToken != "hf_legacy" {
		t.Errorf("APIToken = %q, want hf_legacy", cfg.Provider.APIToken)
	}
}

// TestSecretsFallback verifies the secrets file is consulted when no token is in the environment.
func TestSecretsFallback(t *testing.T) {
	path := writeTempConfig(t, `{}`)
	clearTokenEnv(t)

	cfg, err := loadFromPath(path, mockSecrets{value: "secret-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider.APIToken != "secret-token" {
		t.Errorf("APIToken = %q, want %q", cfg.Provider.APIToken, "secret-token")
	}
}

// TestValidateMissingToken verifies a clear error when the token is missing everywhere.
func TestValidateMissingToken(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}

	cfg.Provider.APIToken = "tok"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate with token: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaults()
	cfg.Provider.APIToken = "tok"
	cfg.Server.Port = 70000
	cfg.Provider.Timeout = "soon"
	cfg.Log.Level = "verbose"
	cfg.Storage.ArtifactTTL = "-1h"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.port", "provider.timeout", "log.level", "storage.artifact_ttl"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSetKey(t *testing.T) {
	dir := t.TempDir()
	b := newFileBackend(filepath.Join(dir, "config.json"))
	secrets := secretsFile{path: filepath.Join(dir, "secrets.json")}

	if err := setKeyWith(b, secrets, "server.port", "6001"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKeyWith(b, secrets, "storage.history_enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKeyWith(b, secrets, "provider.top_p", "0.5"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if err := setKeyWith(b, secrets, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKeyWith(b, secrets, "nope.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKeyWith(b, secrets, "provider.api_token", "hf_123"); err != nil {
		t.Fatalf("set secret: %v", err)
	}

	clearTokenEnv(t)
	cfg, err := loadWith(newFileBackend(filepath.Join(dir, "config.json")), secrets)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 6001 || cfg.Storage.HistoryEnabled || cfg.Provider.TopP != 0.5 {
		t.Errorf("persisted values not loaded: %+v", cfg)
	}
	if cfg.Provider.APIToken != "hf_123" {
		t.Errorf("APIToken = %q, want hf_123", cfg.Provider.APIToken)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hf_123") {
		t.Error("secret written to config file")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Provider.APIToken = "hf_secret"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "hf_secret") {
			t.Errorf("%s leaks secret", k.Key)
		}
		if k.Key == "provider.api_token" && k.Value != "(set)" {
			t.Errorf("token shown as %q, want (set)", k.Value)
		}
	}
}
