package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Speech   SpeechConfig
	Storage  StorageConfig
	Proof    ProofConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
}

type ProviderConfig struct {
	Endpoint     string
	APIToken     string
	MaxNewTokens int
	Temperature  float64
	TopP         float64
	Timeout      string
}

type SpeechConfig struct {
	Endpoint string
}

type StorageConfig struct {
	DataDir        string
	HistoryEnabled bool
	// ArtifactTTL is how long proof and audio files are kept. "0" keeps
	// them forever.
	ArtifactTTL string
}

type ProofConfig struct {
	// FontPaths is a comma-separated list of TrueType files tried in order.
	FontPaths string
}

type LogConfig struct {
	Level string
}

const (
	defaultProviderEndpoint = "https://api-inference.huggingface.co/models/mistralai/Mixtral-8x7B-Instruct-v0.1"
	defaultSpeechEndpoint   = "https://translate.google.com/translate_tts"

	secretService        = "alibi"
	secretAccountToken   = "provider_api_token"
	legacyTokenEnv       = "HUGGINGFACE_API_TOKEN"
	savedExcusesFileName = "saved_excuses.json"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           5000,
			RateLimitRPS:   2,
			RateLimitBurst: 5,
		},
		Provider: ProviderConfig{
			Endpoint:     defaultProviderEndpoint,
			MaxNewTokens: 100,
			Temperature:  0.7,
			TopP:         0.9,
			Timeout:      "30s",
		},
		Speech: SpeechConfig{
			Endpoint: defaultSpeechEndpoint,
		},
		Storage: StorageConfig{
			DataDir:        defaultDataDir(),
			HistoryEnabled: true,
			ArtifactTTL:    "24h",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/alibi/config.json, then applies ALIBI_* environment
// overrides. The provider token is never read from the config file: it
// comes from ALIBI_PROVIDER_API_TOKEN, HUGGINGFACE_API_TOKEN, or the
// secrets file at $XDG_DATA_HOME/alibi/secrets.json, in that order.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Provider.APIToken == "" {
		cfg.Provider.APIToken = strings.TrimSpace(os.Getenv(legacyTokenEnv))
	}
	if cfg.Provider.APIToken == "" {
		if tok, err := secrets.Get(secretService, secretAccountToken); err == nil && tok != "" {
			cfg.Provider.APIToken = strings.TrimSpace(tok)
		}
	}

	return cfg, nil
}

// Validate checks the settings the server needs before it starts.
func (c Config) Validate() error {
	var errs []error
	if c.Provider.APIToken == "" {
		errs = append(errs, errors.New("missing required config: provider API token. "+
			"Set it via environment variable ALIBI_PROVIDER_API_TOKEN or `alibi config set provider.api_token <token>`"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("provider.timeout: %w", err))
	}
	if d, err := time.ParseDuration(c.Storage.ArtifactTTL); err != nil {
		errs = append(errs, fmt.Errorf("storage.artifact_ttl: %w", err))
	} else if d < 0 {
		errs = append(errs, errors.New("storage.artifact_ttl must not be negative"))
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server rate limits must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Addr is the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProviderTimeout parses Provider.Timeout, falling back to 30s.
func (c Config) ProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ArtifactTTL parses Storage.ArtifactTTL. Zero disables the sweeper.
func (c Config) ArtifactTTL() time.Duration {
	d, err := time.ParseDuration(c.Storage.ArtifactTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// FontPaths splits Proof.FontPaths. An empty result selects the built-in
// candidate list.
func (c Config) FontPaths() []string {
	var out []string
	for _, p := range strings.Split(c.Proof.FontPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) ProofDir() string        { return filepath.Join(c.Storage.DataDir, "proofs") }
func (c Config) AudioDir() string        { return filepath.Join(c.Storage.DataDir, "audio") }
func (c Config) SavedExcusesPath() string { return filepath.Join(c.Storage.DataDir, savedExcusesFileName) }
func (c Config) PIDFile() string          { return filepath.Join(c.Storage.DataDir, "alibi.pid") }
