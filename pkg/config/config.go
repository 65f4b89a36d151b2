package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines runtime settings for gencad.
type Config struct {
	LogLevel   string           `yaml:"logLevel"`
	LogFormat  string           `yaml:"logFormat"`
	Provider   string           `yaml:"provider"`
	Gemini     ProviderConfig   `yaml:"gemini"`
	OpenAI     ProviderConfig   `yaml:"openai"`
	Generation GenerationConfig `yaml:"generation"`
	Engine     EngineConfig     `yaml:"engine"`
	Artifacts  ArtifactConfig   `yaml:"artifacts"`
	PolicyPath string           `yaml:"policyPath"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL"`
	Timeout string `yaml:"timeout"`
}

type GenerationConfig struct {
	MaxOutputTokens int     `yaml:"maxOutputTokens"`
	Temperature     float64 `yaml:"temperature"`
}

type EngineConfig struct {
	Command        string `yaml:"command"`
	InstallPackage string `yaml:"installPackage"`
	ProbeTimeout   string `yaml:"probeTimeout"`
}

type ArtifactConfig struct {
	Dir          string `yaml:"dir"`
	Suffix       string `yaml:"suffix"`
	CleanupDelay string `yaml:"cleanupDelay"`
}

type GatewayConfig struct {
	Address        string   `yaml:"address"`
	AllowedAddrs   []string `yaml:"allowedAddrs"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Provider:  "gemini",
		Gemini: ProviderConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "60s",
		},
		OpenAI: ProviderConfig{
			Model:   "gpt-4o-mini",
			Timeout: "60s",
		},
		Generation: GenerationConfig{
			MaxOutputTokens: 4096,
			Temperature:     0.3,
		},
		Engine: EngineConfig{
			Command:        "freecad",
			InstallPackage: "freecad",
			ProbeTimeout:   "10s",
		},
		Artifacts: ArtifactConfig{
			Suffix:       ".py",
			CleanupDelay: "30s",
		},
		Gateway: GatewayConfig{
			Address: "127.0.0.1:8787",
		},
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
	}
}

// LoadConfig loads configuration from a YAML file and environment overrides.
// An empty path falls back to DefaultConfigPath, which may be absent.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if provider := os.Getenv("GENCAD_PROVIDER"); provider != "" {
		c.Provider = provider
	}
	if model := os.Getenv("GENCAD_MODEL"); model != "" {
		switch strings.ToLower(c.Provider) {
		case "openai":
			c.OpenAI.Model = model
		default:
			c.Gemini.Model = model
		}
	}
	if engine := os.Getenv("GENCAD_ENGINE"); engine != "" {
		c.Engine.Command = engine
	}
	if logLevel := os.Getenv("GENCAD_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if logFormat := os.Getenv("GENCAD_LOG_FORMAT"); logFormat != "" {
		c.LogFormat = logFormat
	}
	if policy := os.Getenv("GENCAD_POLICY"); policy != "" {
		c.PolicyPath = policy
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "gemini", "google", "openai", "mock":
	default:
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	if c.Generation.MaxOutputTokens <= 0 {
		return fmt.Errorf("generation.maxOutputTokens must be positive")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2")
	}
	if strings.TrimSpace(c.Engine.Command) == "" {
		return fmt.Errorf("engine.command is required")
	}
	for name, value := range map[string]string{
		"gemini.timeout":         c.Gemini.Timeout,
		"openai.timeout":         c.OpenAI.Timeout,
		"engine.probeTimeout":    c.Engine.ProbeTimeout,
		"artifacts.cleanupDelay": c.Artifacts.CleanupDelay,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// ActiveProvider returns the settings of the selected provider.
func (c *Config) ActiveProvider() ProviderConfig {
	if strings.EqualFold(c.Provider, "openai") {
		return c.OpenAI
	}
	return c.Gemini
}

// Duration parses value, falling back to def when empty or invalid.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DefaultConfigPath returns the default location for the CLI config file.
func DefaultConfigPath() string {
	if path := os.Getenv("GENCAD_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(HomeDir(), "config.yaml")
}

// HomeDir is the per-user gencad directory.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gencad")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
