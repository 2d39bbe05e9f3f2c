package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Store      StoreConfig      `json:"store"`
	Summarizer SummarizerConfig `json:"summarizer"`
	Memory     MemoryConfig     `json:"memory"`
	Context    ContextConfig    `json:"context"`
	Sweep      SweepConfig      `json:"sweep"`
	Gateway    GatewayConfig    `json:"gateway"`
	Log        LogConfig        `json:"log"`
	mu         sync.RWMutex
}

type StoreConfig struct {
	Path string `json:"path" env:"EVAMEM_STORE_PATH"`
}

type SummarizerConfig struct {
	APIKey    string `json:"api_key" env:"EVAMEM_SUMMARIZER_API_KEY"`
	APIBase   string `json:"api_base" env:"EVAMEM_SUMMARIZER_API_BASE"`
	Model     string `json:"model" env:"EVAMEM_SUMMARIZER_MODEL"`
	MaxTokens int    `json:"max_tokens" env:"EVAMEM_SUMMARIZER_MAX_TOKENS"`
}

type MemoryConfig struct {
	Capacity           int `json:"capacity" env:"EVAMEM_MEMORY_CAPACITY"`
	TTLHours           int `json:"ttl_hours" env:"EVAMEM_MEMORY_TTL_HOURS"`
	BatchSize          int `json:"batch_size" env:"EVAMEM_MEMORY_BATCH_SIZE"`
	CallTimeoutSeconds int `json:"call_timeout_seconds" env:"EVAMEM_MEMORY_CALL_TIMEOUT_SECONDS"`
	MaxAttempts        int `json:"max_attempts" env:"EVAMEM_MEMORY_MAX_ATTEMPTS"`
	BaseDelayMS        int `json:"base_delay_ms" env:"EVAMEM_MEMORY_BASE_DELAY_MS"`
}

type ContextConfig struct {
	Facts      int `json:"facts" env:"EVAMEM_CONTEXT_FACTS"`
	Turns      int `json:"turns" env:"EVAMEM_CONTEXT_TURNS"`
	SizeBudget int `json:"size_budget" env:"EVAMEM_CONTEXT_SIZE_BUDGET"`
}

type SweepConfig struct {
	IntervalMinutes int    `json:"interval_minutes" env:"EVAMEM_SWEEP_INTERVAL_MINUTES"`
	Schedule        string `json:"schedule" env:"EVAMEM_SWEEP_SCHEDULE"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"EVAMEM_GATEWAY_HOST"`
	Port int    `json:"port" env:"EVAMEM_GATEWAY_PORT"`
}

type LogConfig struct {
	Level  string `json:"level" env:"EVAMEM_LOG_LEVEL"`
	Pretty bool   `json:"pretty" env:"EVAMEM_LOG_PRETTY"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "~/.evamem/evamem.db",
		},
		Summarizer: SummarizerConfig{
			APIBase:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
		},
		Memory: MemoryConfig{
			Capacity:           50,
			TTLHours:           24,
			BatchSize:          20,
			CallTimeoutSeconds: 10,
			MaxAttempts:        3,
			BaseDelayMS:        500,
		},
		Context: ContextConfig{
			Facts:      5,
			Turns:      20,
			SizeBudget: 4000,
		},
		Sweep: SweepConfig{
			IntervalMinutes: 10,
			Schedule:        "",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18890,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

func (c *Config) TTL() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Memory.TTLHours) * time.Hour
}

func (c *Config) CallTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Memory.CallTimeoutSeconds) * time.Second
}

func (c *Config) BaseDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Memory.BaseDelayMS) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Sweep.IntervalMinutes) * time.Minute
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
