package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/chriskillpack/phototag/internal/ollama"
	"github.com/chriskillpack/phototag/tagging"
)

const (
	BackendOllama = "ollama"
	BackendLlama  = "llama"

	// DefaultPath is read if present, a missing file there is not an error.
	DefaultPath = "phototag.yaml"
)

type Config struct {
	Backend      string `yaml:"backend"`
	OllamaServer string `yaml:"ollama_server"`
	Model        string `yaml:"model"`
	Prompt       string `yaml:"prompt"`
	LlamaServer  string `yaml:"llama_server"`
	LlamaSeed    int    `yaml:"llama_seed"`

	// 0 means no timeout beyond the network stack's
	TimeoutSeconds int `yaml:"timeout_seconds"`

	Concurrency       int `yaml:"concurrency"`
	RequestsPerMinute int `yaml:"requests_per_minute"` // 0 = unlimited

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is overridden: a local
// Ollama with the moondream model.
func Default() *Config {
	return &Config{
		Backend:      BackendOllama,
		OllamaServer: ollama.DefaultServer,
		Model:        ollama.DefaultModel,
		Prompt:       tagging.Prompt,
		LlamaServer:  "http://localhost:8080",
		LlamaSeed:    385480504,
		Concurrency:  1,
		ListenAddr:   "127.0.0.1:7878",
		LogLevel:     "info",
	}
}

// Load reads the YAML file at path over the defaults. A missing file is only
// tolerated for DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultPath {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.OllamaServer == "" {
			return fmt.Errorf("ollama_server must be set for the ollama backend")
		}
	case BackendLlama:
		if c.LlamaServer == "" {
			return fmt.Errorf("llama_server must be set for the llama backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.RequestsPerMinute < 0 || c.TimeoutSeconds < 0 {
		return fmt.Errorf("requests_per_minute and timeout_seconds must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Timeout is the HTTP client timeout, zero when disabled.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Level returns the parsed log level, info if unparseable.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
