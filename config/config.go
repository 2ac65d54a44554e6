package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

const (
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
)

// defaultModels is used when llm_model is unset.
var defaultModels = map[string]string{
	ProviderGroq:      "llama-3.3-70b-versatile",
	ProviderAnthropic: "claude-sonnet-4-5-20250929",
}

var ErrMissingAPIKey = errors.New("missing API key")

type Config struct {
	Host    string `toml:"host" mapstructure:"host"`
	Port    string `toml:"port" mapstructure:"port"`
	Libonnx string `toml:"libonnx" mapstructure:"libonnx"`

	ModelDir        string  `toml:"model_dir" mapstructure:"model_dir"`
	ModelFileName   string  `toml:"model_file_name" mapstructure:"model_file_name"`
	ModelLabelsName string  `toml:"model_labels_name" mapstructure:"model_labels_name"`
	ImageSize       int     `toml:"image_size" mapstructure:"image_size"`
	PixelScale      float32 `toml:"pixel_scale" mapstructure:"pixel_scale"`
	Activation      string  `toml:"activation" mapstructure:"activation"`
	PoolSize        int     `toml:"pool_size" mapstructure:"pool_size"`
	MaxUploadMB     int     `toml:"max_upload_mb" mapstructure:"max_upload_mb"`

	// Confidence is a percentage; analyses at or below it are rejected.
	Threshold float32 `toml:"threshold" mapstructure:"threshold"`

	Provider           string `toml:"provider" mapstructure:"provider"`
	LLMModel           string `toml:"llm_model" mapstructure:"llm_model"`
	LLMBaseURL         string `toml:"llm_base_url" mapstructure:"llm_base_url"`
	LLMMaxTokens       int64  `toml:"llm_max_tokens" mapstructure:"llm_max_tokens"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds" mapstructure:"http_timeout_seconds"`

	SessionTTLMinutes int    `toml:"session_ttl_minutes" mapstructure:"session_ttl_minutes"`
	LogDir            string `toml:"log_dir" mapstructure:"log_dir"`
	Telemetry         bool   `toml:"telemetry" mapstructure:"telemetry"`

	SecretsFile string  `toml:"secrets_file" mapstructure:"secrets_file"`
	Secrets     Secrets `toml:"-"`
}

// Secrets mirrors the keys of secrets.toml.
type Secrets struct {
	GroqAPIKey      string `toml:"GROQ_API_KEY"`
	AnthropicAPIKey string `toml:"ANTHROPIC_API_KEY"`
}

// APIKey returns the key of the configured provider.
func (c Config) APIKey() string {
	if c.Provider == ProviderAnthropic {
		return c.Secrets.AnthropicAPIKey
	}
	return c.Secrets.GroqAPIKey
}

func Default() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               "8501",
		ModelDir:           "models",
		ModelFileName:      "agri_doctor.onnx",
		ImageSize:          224,
		PixelScale:         255,
		Activation:         "none",
		PoolSize:           1,
		MaxUploadMB:        10,
		Threshold:          10,
		Provider:           ProviderGroq,
		LLMBaseURL:         "https://api.groq.com/openai/v1",
		LLMMaxTokens:       1024,
		HTTPTimeoutSeconds: 90,
		SessionTTLMinutes:  60,
		LogDir:             "logs",
		SecretsFile:        "secrets.toml",
	}
}

// Load reads the optional config file and the required secrets file.
// An empty configPath falls back to CONFIG_PATH, then config.toml.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config.toml"
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read %s: %w", configPath, err)
	}

	envOverride(&cfg.SecretsFile, "SECRETS_PATH")
	if data, err := os.ReadFile(cfg.SecretsFile); err == nil {
		if err := toml.Unmarshal(data, &cfg.Secrets); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", cfg.SecretsFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read %s: %w", cfg.SecretsFile, err)
	}
	envOverride(&cfg.Secrets.GroqAPIKey, "GROQ_API_KEY")
	envOverride(&cfg.Secrets.AnthropicAPIKey, "ANTHROPIC_API_KEY")

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case ProviderGroq, ProviderAnthropic:
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderGroq, ProviderAnthropic, c.Provider)
	}
	if c.LLMModel == "" {
		c.LLMModel = defaultModels[c.Provider]
	}
	if strings.TrimSpace(c.APIKey()) == "" {
		return fmt.Errorf("%w: set %s in %s", ErrMissingAPIKey, c.apiKeyName(), c.SecretsFile)
	}
	if c.PoolSize < 1 {
		c.PoolSize = 1
	}
	if c.ImageSize < 1 {
		return fmt.Errorf("invalid image_size %d", c.ImageSize)
	}
	if c.Threshold < 0 || c.Threshold >= 100 {
		return fmt.Errorf("invalid threshold %.1f: must be in [0, 100)", c.Threshold)
	}
	return nil
}

func (c Config) apiKeyName() string {
	if c.Provider == ProviderAnthropic {
		return "ANTHROPIC_API_KEY"
	}
	return "GROQ_API_KEY"
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

var (
	cfg      Config
	loadErr  error
	loadOnce sync.Once
)

// Init loads the process-wide configuration. Later calls are no-ops.
func Init(configPath string) error {
	loadOnce.Do(func() {
		cfg, loadErr = Load(configPath)
	})
	return loadErr
}

func C() Config {
	loadOnce.Do(func() {
		cfg, loadErr = Load("")
	})
	return cfg
}
