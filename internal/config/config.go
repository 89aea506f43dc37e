package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model    string `yaml:"model"`
		Python   string `yaml:"python"`
		Language string `yaml:"language"`
		Threads  int    `yaml:"threads"`
	} `yaml:"whisper"`

	LLM struct {
		APIURL         string `yaml:"api_url"`
		APIKey         string `yaml:"api_key"`
		Model          string `yaml:"model"`
		Mode           string `yaml:"mode"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		DefaultPrompt  string `yaml:"default_prompt"`
	} `yaml:"llm"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Storage struct {
		Driver   string `yaml:"driver"`
		Database string `yaml:"database"`
		TempDir  string `yaml:"temp_dir"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000

	cfg.Whisper.Model = "small"
	cfg.Whisper.Python = "python"
	cfg.Whisper.Threads = 4

	cfg.LLM.APIURL = "http://localhost:11434"
	cfg.LLM.Model = "llama3:8b"
	cfg.LLM.Mode = "auto"
	cfg.LLM.TimeoutSeconds = 300
	cfg.LLM.DefaultPrompt = types.DefaultAnalysisPrompt

	cfg.Workers.Count = 2
	cfg.Workers.QueueSize = 100

	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.Database = "data/media_analysis.db"
	cfg.Storage.TempDir = "temp"

	cfg.Cleanup.IntervalMinutes = 60
	cfg.Cleanup.MaxAgeHours = 24

	cfg.GoogleDrive.CredentialsFile = "config/credentials.json"
	cfg.GoogleDrive.TokenFile = "config/token.json"

	cfg.Limits.MaxFileSizeMB = 500
	return &cfg
}

// Load reads .env, then the YAML file at path over the defaults, then the
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LLM_API_URL"); v != "" {
		c.LLM.APIURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.Database = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver != DriverMemory && c.Storage.Database == "" {
		return errors.New("storage.database is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.Limits.MaxFileSizeMB <= 0 {
		return fmt.Errorf("limits.max_file_size_mb must be positive, got %d", c.Limits.MaxFileSizeMB)
	}
	switch c.LLM.Mode {
	case "", "auto", "ollama", "openai":
	default:
		return fmt.Errorf("unknown llm mode %q", c.LLM.Mode)
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxFileSize returns the upload limit in bytes
func (c *Config) MaxFileSize() int {
	return c.Limits.MaxFileSizeMB * 1024 * 1024
}

// LLMTimeout returns the per-request LLM timeout
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
