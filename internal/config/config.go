// Package config provides configuration loading and structs for semcode.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig locates the index. Everything lives under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// Backend is "file" (index.json plus one JSON record per source file) or "sqlite".
	Backend string `yaml:"backend"`
}

// GlobalPath is the file-backend global index.
func (s StorageConfig) GlobalPath() string { return filepath.Join(s.DataDir, "index.json") }

// SQLitePath is the sqlite-backend database.
func (s StorageConfig) SQLitePath() string { return filepath.Join(s.DataDir, "index.db") }

// VectorIndexPath is the ANN index snapshot.
func (s StorageConfig) VectorIndexPath() string { return filepath.Join(s.DataDir, "index.vec") }

// LockPath is the advisory lock taken by writers.
func (s StorageConfig) LockPath() string { return filepath.Join(s.DataDir, "LOCK") }

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	ModelName  string `yaml:"model_name"`
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	MaxTokens  int    `yaml:"max_tokens"`
	CacheSize  int    `yaml:"cache_size"`
	BatchSize  int    `yaml:"batch_size"`
	// FallbackToMock switches to the mock embedder when the configured model cannot be
	// loaded. An index built by another model then reports a model mismatch.
	FallbackToMock *bool `yaml:"fallback_to_mock"`
}

// FallbackOrDefault returns whether to fall back to the mock embedder; defaults to true.
func (e *EmbeddingConfig) FallbackOrDefault() bool {
	if e.FallbackToMock != nil {
		return *e.FallbackToMock
	}
	return true
}

// VectorConfig selects the ANN index implementation.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// IndexConfig controls directory indexing.
type IndexConfig struct {
	Extensions []string `yaml:"extensions"`
	NodeTypes  []string `yaml:"node_types"`
	Workers    int      `yaml:"workers"`
	// ExcludeDirs are directory names skipped while walking.
	ExcludeDirs []string `yaml:"exclude_dirs"`
}

// SearchConfig holds query settings.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	ContextLines int `yaml:"context_lines"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
	DebounceMS  int      `yaml:"debounce_ms"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.finish(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		if err := cfg.finish(filepath.Dir(path)); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return cfg, err
}

func (cfg *Config) finish(configDir string) error {
	ApplyDefaults(cfg)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	if cfg.Embedding.ModelPath != "" && !filepath.IsAbs(cfg.Embedding.ModelPath) && !strings.HasPrefix(cfg.Embedding.ModelPath, "./") {
		cfg.Embedding.ModelPath = filepath.Join(cfg.Storage.DataDir, cfg.Embedding.ModelPath)
	} else {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return cfg.Validate()
}

// Validate rejects settings no component can honor.
func (cfg *Config) Validate() error {
	switch cfg.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("invalid storage.backend %q (supported: file, sqlite)", cfg.Storage.Backend)
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if cfg.Search.DefaultLimit > cfg.Search.MaxLimit {
		return fmt.Errorf("search.default_limit %d exceeds search.max_limit %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
