package config

import "runtime"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	// DefaultModelName is the code-search sentence embedding model.
	DefaultModelName = "krlvi/sentence-msmarco-bert-base-dot-v5-nlpl-code_search_net"
	defaultDataDir   = "~/.local/share/semantic_code_search"
)

// DefaultExtensions are the source extensions indexed when walking directories.
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".go", ".rs", ".java", ".rb", ".php",
	".c", ".h", ".cpp", ".hpp", ".kt", ".vala",
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaultDataDir
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	// The mock embedder names its own model.
	if cfg.Embedding.ModelName == "" && cfg.Embedding.Provider != "mock" {
		cfg.Embedding.ModelName = DefaultModelName
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "models/code_search_net.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Index.Extensions == nil {
		cfg.Index.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = runtime.NumCPU()
	}
	if cfg.Index.ExcludeDirs == nil {
		cfg.Index.ExcludeDirs = []string{".git", "node_modules", "vendor", "__pycache__", ".venv"}
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.ContextLines == 0 {
		cfg.Search.ContextLines = 5
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
