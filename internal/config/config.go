package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 18890

	DefaultBufSize = 100

	DefaultMemoryModel           = "gpt-4o-mini"
	DefaultMemoryMaxTokens       = 1000
	DefaultMemoryDebounceDelay   = "30s"
	DefaultMemoryLLMTimeout      = "30s"
	DefaultMemoryMaxContext      = 5
	DefaultImportanceThreshold   = 3
	DefaultMemoryExpireAfterDays = 180
	DefaultMemoryExpireMaxScore  = 3

	DefaultFeishuWebhookPort = 9876
)

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	FastGPT  FastGPTConfig  `json:"fastgpt"`
	Memory   MemoryConfig   `json:"memory"`
	Gateway  GatewayConfig  `json:"gateway"`
}

type ChannelsConfig struct {
	Feishu FeishuConfig `json:"feishu"`
}

type FeishuConfig struct {
	Enabled           bool     `json:"enabled"`
	AppID             string   `json:"appId"`
	AppSecret         string   `json:"appSecret"`
	VerificationToken string   `json:"verificationToken"`
	Port              int      `json:"port,omitempty"`
	AllowFrom         []string `json:"allowFrom"`
}

// FastGPTConfig points at the FastGPT application that generates replies.
type FastGPTConfig struct {
	BaseURL string `json:"baseUrl"`
	AppKey  string `json:"appKey"`
}

type MemoryConfig struct {
	Enabled             bool            `json:"enabled"`
	Model               string          `json:"model,omitempty"`
	MaxTokens           int             `json:"maxTokens,omitempty"`
	DBPath              string          `json:"dbPath,omitempty"`
	Provider            *ProviderConfig `json:"provider,omitempty"`
	DebounceDelay       string          `json:"debounceDelay,omitempty"`
	LLMTimeout          string          `json:"llmTimeout,omitempty"`
	MaxContextMemories  int             `json:"maxContextMemories,omitempty"`
	ImportanceThreshold int             `json:"importanceThreshold,omitempty"`
	Expiry              ExpiryConfig    `json:"expiry"`
}

// ExpiryConfig controls the daily maintenance job that deactivates stale
// low-importance memories.
type ExpiryConfig struct {
	Enabled       bool `json:"enabled"`
	AfterDays     int  `json:"afterDays,omitempty"`
	MaxImportance int  `json:"maxImportance,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{},
		FastGPT:  FastGPTConfig{},
		Memory: MemoryConfig{
			Enabled:             true,
			Model:               DefaultMemoryModel,
			MaxTokens:           DefaultMemoryMaxTokens,
			DebounceDelay:       DefaultMemoryDebounceDelay,
			LLMTimeout:          DefaultMemoryLLMTimeout,
			MaxContextMemories:  DefaultMemoryMaxContext,
			ImportanceThreshold: DefaultImportanceThreshold,
			Expiry: ExpiryConfig{
				Enabled:       true,
				AfterDays:     DefaultMemoryExpireAfterDays,
				MaxImportance: DefaultMemoryExpireMaxScore,
			},
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".larkmind")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if appID := os.Getenv("LARKMIND_FEISHU_APP_ID"); appID != "" {
		cfg.Channels.Feishu.AppID = appID
	}
	if appSecret := os.Getenv("LARKMIND_FEISHU_APP_SECRET"); appSecret != "" {
		cfg.Channels.Feishu.AppSecret = appSecret
	}
	if token := os.Getenv("LARKMIND_FEISHU_VERIFICATION_TOKEN"); token != "" {
		cfg.Channels.Feishu.VerificationToken = token
	}
	if url := os.Getenv("LARKMIND_FASTGPT_BASE_URL"); url != "" {
		cfg.FastGPT.BaseURL = url
	}
	if key := os.Getenv("LARKMIND_FASTGPT_APP_KEY"); key != "" {
		cfg.FastGPT.AppKey = key
	}
	if enabled := os.Getenv("LARKMIND_MEMORY_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Memory.Enabled = parsed
		}
	}
	if model := os.Getenv("LARKMIND_MEMORY_MODEL"); model != "" {
		cfg.Memory.Model = model
	}
	if key := os.Getenv("LARKMIND_MEMORY_API_KEY"); key != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.APIKey = key
	}
	if url := os.Getenv("LARKMIND_MEMORY_BASE_URL"); url != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.BaseURL = url
	}
	if dbPath := os.Getenv("LARKMIND_MEMORY_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if delay := os.Getenv("LARKMIND_MEMORY_DEBOUNCE_DELAY"); delay != "" {
		cfg.Memory.DebounceDelay = delay
	}

	if cfg.Memory.Model == "" {
		cfg.Memory.Model = DefaultMemoryModel
	}
	if cfg.Memory.MaxTokens <= 0 {
		cfg.Memory.MaxTokens = DefaultMemoryMaxTokens
	}
	if cfg.Memory.DebounceDelay == "" {
		cfg.Memory.DebounceDelay = DefaultMemoryDebounceDelay
	}
	if cfg.Memory.LLMTimeout == "" {
		cfg.Memory.LLMTimeout = DefaultMemoryLLMTimeout
	}
	if cfg.Memory.MaxContextMemories <= 0 {
		cfg.Memory.MaxContextMemories = DefaultMemoryMaxContext
	}
	if cfg.Memory.ImportanceThreshold <= 0 {
		cfg.Memory.ImportanceThreshold = DefaultImportanceThreshold
	}
	if cfg.Memory.Expiry.AfterDays <= 0 {
		cfg.Memory.Expiry.AfterDays = DefaultMemoryExpireAfterDays
	}
	if cfg.Memory.Expiry.MaxImportance <= 0 {
		cfg.Memory.Expiry.MaxImportance = DefaultMemoryExpireMaxScore
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
