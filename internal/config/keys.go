package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "ALIBI_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "ALIBI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "ALIBI_SERVER_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "ALIBI_SERVER_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "provider.endpoint", typ: kString, env: "ALIBI_PROVIDER_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Endpoint },
	},
	{
		key: "provider.api_token", typ: kString, env: "ALIBI_PROVIDER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.APIToken },
	},
	{
		key: "provider.max_new_tokens", typ: kInt, env: "ALIBI_PROVIDER_MAX_NEW_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Provider.MaxNewTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Provider.MaxNewTokens },
	},
	{
		key: "provider.temperature", typ: kFloat, env: "ALIBI_PROVIDER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Provider.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.Temperature },
	},
	{
		key: "provider.top_p", typ: kFloat, env: "ALIBI_PROVIDER_TOP_P",
		apply:   func(cfg *Config, v any) { cfg.Provider.TopP = v.(float64) },
		extract: func(cfg Config) any { return cfg.Provider.TopP },
	},
	{
		key: "provider.timeout", typ: kString, env: "ALIBI_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Timeout },
	},
	{
		key: "speech.endpoint", typ: kString, env: "ALIBI_SPEECH_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Speech.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Endpoint },
	},
	{
		key: "storage.data_dir", typ: kString, env: "ALIBI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.history_enabled", typ: kBool, env: "ALIBI_STORAGE_HISTORY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Storage.HistoryEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.HistoryEnabled },
	},
	{
		key: "storage.artifact_ttl", typ: kString, env: "ALIBI_STORAGE_ARTIFACT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Storage.ArtifactTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.ArtifactTTL },
	},
	{
		key: "proof.font_paths", typ: kString, env: "ALIBI_PROOF_FONT_PATHS",
		apply:   func(cfg *Config, v any) { cfg.Proof.FontPaths = v.(string) },
		extract: func(cfg Config) any { return cfg.Proof.FontPaths },
	},
	{
		key: "log.level", typ: kString, env: "ALIBI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
