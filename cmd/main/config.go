package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/natefinch/atomic"
)

// ServerConfig holds the configuration for the HTTP server and storage.
type ServerConfig struct {
	ApiAddr      string `json:"api_addr" toml:"api_addr"`
	LogLevel     string `json:"log_level" toml:"log_level"`
	DataDir      string `json:"data_dir" toml:"data_dir"`
	DatabasePath string `json:"database_path" toml:"database_path"`
}

// GenerationConfig holds limits applied to API generation and training requests.
type GenerationConfig struct {
	DefaultLength int   `json:"default_length" toml:"default_length"`
	MaxLength     int   `json:"max_length" toml:"max_length"`
	MaxTrainBytes int64 `json:"max_train_bytes" toml:"max_train_bytes"`
}

// ModelConfig describes a model that is created and trained at startup.
// The corpus comes from CorpusFile when set, otherwise from the stored
// corpus named Corpus.
type ModelConfig struct {
	Name         string  `json:"name" toml:"name"`
	WindowLength int     `json:"window_length" toml:"window_length"`
	Seed         *uint64 `json:"seed,omitempty" toml:"seed"`
	CorpusFile   string  `json:"corpus_file,omitempty" toml:"corpus_file"`
	Corpus       string  `json:"corpus,omitempty" toml:"corpus"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server     *ServerConfig     `json:"server_config" toml:"server_config"`
	Generation *GenerationConfig `json:"generation_config" toml:"generation_config"`
	Models     []ModelConfig     `json:"models" toml:"models"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:      ":7279",
		LogLevel:     "info",
		DataDir:      "./data",
		DatabasePath: "./data/charkov.db",
	}
}

// DefaultGenerationConfig creates a generation configuration with default values.
func DefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		DefaultLength: 200,
		MaxLength:     10000,
		MaxTrainBytes: 64 << 20,
	}
}

// DefaultConfig returns a Config populated with defaults and no models.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Generation: DefaultGenerationConfig(),
		Models:     []ModelConfig{},
	}
}

// LoadConfig reads the configuration from a JSON or TOML file at the given
// path, chosen by extension. If the file doesn't exist, it creates a JSON one
// with default values. Values from a .env file next to the working directory
// and CHARKOV_* environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load(".env")

	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// If the file doesn't exist, create it with the default config.
		var data []byte
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
			// Log a warning instead of failing, as the server can still run with defaults.
			fmt.Printf("warning: failed to write default config file: %v\n", err)
		}
	} else if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err = toml.Decode(string(file), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err = json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Sections missing from the file fall back to defaults.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Generation == nil {
		config.Generation = DefaultGenerationConfig()
	}

	applyEnv(config)

	if err = validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv overrides config values with any CHARKOV_* environment variables.
func applyEnv(config *Config) {
	if v := os.Getenv("CHARKOV_API_ADDR"); v != "" {
		config.Server.ApiAddr = v
	}
	if v := os.Getenv("CHARKOV_LOG_LEVEL"); v != "" {
		config.Server.LogLevel = v
	}
	if v := os.Getenv("CHARKOV_DATABASE_PATH"); v != "" {
		config.Server.DatabasePath = v
	}
}

func validateConfig(config *Config) error {
	var errs []error
	if config.Generation.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("generation_config.max_length must be positive, got %d", config.Generation.MaxLength))
	}
	if config.Generation.DefaultLength < 0 || config.Generation.DefaultLength > config.Generation.MaxLength {
		errs = append(errs, fmt.Errorf("generation_config.default_length must be between 0 and max_length, got %d", config.Generation.DefaultLength))
	}
	if config.Generation.MaxTrainBytes <= 0 {
		errs = append(errs, fmt.Errorf("generation_config.max_train_bytes must be positive, got %d", config.Generation.MaxTrainBytes))
	}
	seen := make(map[string]struct{}, len(config.Models))
	for i, m := range config.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
		}
		if _, dup := seen[m.Name]; dup {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate name %q", i, m.Name))
		}
		seen[m.Name] = struct{}{}
		if m.WindowLength <= 0 {
			errs = append(errs, fmt.Errorf("models[%d]: window_length must be positive, got %d", i, m.WindowLength))
		}
		if m.CorpusFile != "" && m.Corpus != "" {
			errs = append(errs, fmt.Errorf("models[%d]: corpus_file and corpus are mutually exclusive", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// parseLogLevel maps a config log level to a slog.Level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}
