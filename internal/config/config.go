package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Storage    Storage    `yaml:"storage"`
	Generation Generation `yaml:"generation"`
	Research   Research   `yaml:"research"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Storage struct {
	// Driver selects the store backend: "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the PostgreSQL connection string; unused for sqlite.
	DSN string `yaml:"dsn"`
}

type Generation struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OpenAIModel string `yaml:"openai_model"`
	APIKeyEnv   string `yaml:"api_key_env"`
	MaxTokens   int    `yaml:"max_tokens"`
}

type Research struct {
	PillarID int `yaml:"pillar_id"`
	Workers  int `yaml:"workers"`
}

type Output struct {
	DataDir  string `yaml:"data_dir"`
	PaperDir string `yaml:"paper_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for safetyindex.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "safetyindex")
}

// DataDir returns the XDG data directory for safetyindex.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "safetyindex")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/safetyindex/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'safetyindex init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Storage: Storage{
			Driver: "sqlite",
		},
		Generation: Generation{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4-turbo",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   4096,
		},
		Research: Research{
			PillarID: 3,
			Workers:  1,
		},
		Output:  Output{PaperDir: "."},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
