// Package config loads movegrid configuration from a YAML file with
// environment overrides, and can hot-reload tunables when the file changes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperr "github.com/movegrid/movegrid/core/errors"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Provider     ProviderConfig     `yaml:"provider"`
	Chain        ChainConfig        `yaml:"chain"`
	Conversation ConversationConfig `yaml:"conversation"`
	Janitor      JanitorConfig      `yaml:"janitor"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Dev          DevConfig          `yaml:"dev"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	CORSOrigin string `yaml:"cors_origin"`
}

type ProviderConfig struct {
	Type          string        `yaml:"type"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
}

type ChainConfig struct {
	Network string `yaml:"network"`
	NodeURL string `yaml:"node_url"`
}

type ConversationConfig struct {
	// HistoryWindow bounds how many recent messages each turn replays to
	// the model.
	HistoryWindow int `yaml:"history_window"`

	// StorePath is the SQLite database path. Empty selects the in-memory
	// store.
	StorePath string `yaml:"store_path"`
}

type JanitorConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

type RateLimitConfig struct {
	// RequestsPerSecond and Burst bound ordinary traffic per client key.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// Sensitive budgets apply to agent create/remove operations.
	SensitiveRequestsPerSecond float64 `yaml:"sensitive_requests_per_second"`
	SensitiveBurst             int     `yaml:"sensitive_burst"`

	// MaxKeys bounds how many per-client limiters stay resident.
	MaxKeys int `yaml:"max_keys"`
}

// DevConfig gates development conveniences. The fallback secret is honored
// only when Enabled is set explicitly; production deployments leave this
// block out entirely.
type DevConfig struct {
	Enabled        bool   `yaml:"enabled"`
	FallbackSecret string `yaml:"fallback_secret"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:       ":8080",
			CORSOrigin: "*",
		},
		Provider: ProviderConfig{
			Type:          "openai",
			APIKeyEnv:     "OPENAI_API_KEY",
			Model:         "gpt-4o-mini",
			MaxTokens:     4096,
			Temperature:   0.7,
			Timeout:       2 * time.Minute,
			MaxToolRounds: 4,
		},
		Chain: ChainConfig{
			Network: "testnet",
		},
		Conversation: ConversationConfig{
			HistoryWindow: 10,
		},
		Janitor: JanitorConfig{
			MaxAge:   24 * time.Hour,
			Interval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:          10,
			Burst:                      20,
			SensitiveRequestsPerSecond: 1,
			SensitiveBurst:             3,
			MaxKeys:                    4096,
		},
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	const op = "config.Validate"

	if c.Server.Addr == "" {
		return apperr.New(apperr.KindInvalidInput, op, "server.addr is required")
	}
	switch c.Provider.Type {
	case "openai", "anthropic":
	default:
		return apperr.New(apperr.KindInvalidInput, op,
			fmt.Sprintf("unknown provider type %q", c.Provider.Type))
	}
	if c.Conversation.HistoryWindow <= 0 {
		return apperr.New(apperr.KindInvalidInput, op, "conversation.history_window must be positive")
	}
	if c.Janitor.MaxAge <= 0 || c.Janitor.Interval <= 0 {
		return apperr.New(apperr.KindInvalidInput, op, "janitor durations must be positive")
	}
	if c.Dev.FallbackSecret != "" && !c.Dev.Enabled {
		return apperr.New(apperr.KindInvalidInput, op,
			"dev.fallback_secret requires dev.enabled")
	}
	return nil
}

// APIKey resolves the provider credential from the configured environment
// variable. The key itself never appears in the config file.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// FallbackSecret returns the development secret, or empty when dev mode is
// off. Callers must treat empty as "no fallback".
func (c *Config) FallbackSecret() string {
	if !c.Dev.Enabled {
		return ""
	}
	return c.Dev.FallbackSecret
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvironment overlays MOVEGRID_* variables onto cfg. Unparseable
// values are ignored rather than failing startup.
func applyEnvironment(cfg *Config) {
	if v := os.Getenv("MOVEGRID_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MOVEGRID_CORS_ORIGIN"); v != "" {
		cfg.Server.CORSOrigin = v
	}
	if v := os.Getenv("MOVEGRID_PROVIDER_TYPE"); v != "" {
		cfg.Provider.Type = v
	}
	if v := os.Getenv("MOVEGRID_PROVIDER_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("MOVEGRID_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Provider.Timeout = d
		}
	}
	if v := os.Getenv("MOVEGRID_CHAIN_NETWORK"); v != "" {
		cfg.Chain.Network = v
	}
	if v := os.Getenv("MOVEGRID_CHAIN_NODE_URL"); v != "" {
		cfg.Chain.NodeURL = v
	}
	if v := os.Getenv("MOVEGRID_HISTORY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.HistoryWindow = n
		}
	}
	if v := os.Getenv("MOVEGRID_STORE_PATH"); v != "" {
		cfg.Conversation.StorePath = v
	}
	if v := os.Getenv("MOVEGRID_JANITOR_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Janitor.MaxAge = d
		}
	}
	if v := os.Getenv("MOVEGRID_JANITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Janitor.Interval = d
		}
	}
	if v := os.Getenv("MOVEGRID_DEV_MODE"); v != "" {
		cfg.Dev.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MOVEGRID_DEV_FALLBACK_SECRET"); v != "" {
		cfg.Dev.FallbackSecret = v
	}
}
