package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	APIPort   string
	LogLevel  slog.Level
	LogFormat string // text or json

	DataDir   string
	DBPath    string
	IndexPath string
	PapersDir string // Optional directory ingested at startup

	VectorBackend    string // flat or qdrant
	QdrantURL        string
	QdrantCollection string

	EmbeddingBaseURL   string
	EmbeddingModelName string
	EmbeddingAPIKey    string
	EmbeddingDim       int

	RerankEnabled bool
	RerankBaseURL string // Empty selects the lexical pair scorer
	RerankModel   string

	LLMBaseURL   string
	LLMModelName string
	LLMAPIKey    string

	OpenAIBaseURL      string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIProviderName string

	LLMPreferredProvider  string
	LLMMaxRetries         int
	LLMRetryBaseDelay     time.Duration
	LLMQuotaCooldown      time.Duration
	LLMMinRequestInterval time.Duration
	LLMCallTimeout        time.Duration

	RedisURL    string // Empty disables the response cache
	LLMCacheTTL time.Duration

	TuningFile string
	Chunking   ChunkingConfig
	Retrieval  RetrievalConfig
}

// ChunkingConfig sizes passages. Sizes are in characters.
type ChunkingConfig struct {
	ChunkSize       int  `yaml:"chunk_size"`
	Overlap         int  `yaml:"overlap"`
	MinChunkSize    int  `yaml:"min_chunk_size"`
	RespectSections bool `yaml:"respect_sections"`
}

// RetrievalConfig tunes the answer pipeline.
type RetrievalConfig struct {
	TopK               int     `yaml:"top_k"`
	CandidatePool      int     `yaml:"candidate_pool"`
	EvidenceCharBudget int     `yaml:"evidence_char_budget"`
	ContextWindow      int     `yaml:"context_window"`
	DraftTemperature   float32 `yaml:"draft_temperature"`
	DraftMaxTokens     int     `yaml:"draft_max_tokens"`
	CheckMaxTokens     int     `yaml:"check_max_tokens"`
	UseCache           bool    `yaml:"use_cache"`
}

// tuning is the layout of the optional YAML tuning file.
type tuning struct {
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

func defaultTuning() tuning {
	return tuning{
		Chunking: ChunkingConfig{
			ChunkSize:       2048,
			Overlap:         512,
			MinChunkSize:    400,
			RespectSections: true,
		},
		Retrieval: RetrievalConfig{
			TopK:               5,
			CandidatePool:      20,
			EvidenceCharBudget: 6000,
			DraftTemperature:   0.2,
			DraftMaxTokens:     1024,
			CheckMaxTokens:     512,
			UseCache:           true,
		},
	}
}

// Load reads configuration from environment variables and returns a Config struct.
// If a .env file exists in the current directory or up to five parents, it is loaded
// first; variables already set take precedence. Tuning values come from the defaults,
// then the YAML file at TUNING_FILE, then environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	dataDir := getEnv("DATA_DIR", "./data")
	cfg := &Config{
		APIPort:   getEnv("API_PORT", "9000"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		DataDir:   dataDir,
		DBPath:    getEnv("DB_PATH", filepath.Join(dataDir, "paperqa.db")),
		IndexPath: getEnv("INDEX_PATH", filepath.Join(dataDir, "index")),
		PapersDir: getEnv("PAPERS_DIR", ""),

		VectorBackend:    strings.ToLower(getEnv("VECTOR_BACKEND", "flat")),
		QdrantURL:        getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: getEnv("QDRANT_COLLECTION", "papers"),

		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "all-MiniLM-L6-v2"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),

		RerankBaseURL: getEnv("RERANK_BASE_URL", ""),
		RerankModel:   getEnv("RERANK_MODEL", "ms-marco-MiniLM-L-6-v2"),

		LLMBaseURL:   getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModelName: getEnv("LLM_MODEL", "Llama-3.1-8B-Instruct"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),

		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIProviderName: getEnv("OPENAI_PROVIDER_NAME", "openai"),

		LLMPreferredProvider: getEnv("LLM_PREFERRED_PROVIDER", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		TuningFile:           getEnv("TUNING_FILE", ""),
	}

	if cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	if cfg.VectorBackend != "flat" && cfg.VectorBackend != "qdrant" {
		return nil, fmt.Errorf("VECTOR_BACKEND must be flat or qdrant, got %q", cfg.VectorBackend)
	}

	// EMBEDDING_DIM must match the output size of the embeddings model. Changing it
	// requires rebuilding the index.
	dimStr := getEnv("EMBEDDING_DIM", "")
	if dimStr == "" {
		return nil, fmt.Errorf("EMBEDDING_DIM is required")
	}
	dim, err := strconv.Atoi(dimStr)
	if err != nil {
		return nil, fmt.Errorf("EMBEDDING_DIM must be a valid integer: %w", err)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be greater than 0")
	}
	cfg.EmbeddingDim = dim

	if cfg.RerankEnabled, err = getEnvBool("RERANK_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.LLMMaxRetries, err = getEnvInt("LLM_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"LLM_RETRY_BASE_DELAY", 3 * time.Second, &cfg.LLMRetryBaseDelay},
		{"LLM_QUOTA_COOLDOWN", 300 * time.Second, &cfg.LLMQuotaCooldown},
		{"LLM_MIN_REQUEST_INTERVAL", 0, &cfg.LLMMinRequestInterval},
		{"LLM_CALL_TIMEOUT", 2 * time.Minute, &cfg.LLMCallTimeout},
		{"LLM_CACHE_TTL", 24 * time.Hour, &cfg.LLMCacheTTL},
	}
	for _, d := range durations {
		if *d.dest, err = getEnvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	t, err := loadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}
	if err := applyTuningEnv(&t); err != nil {
		return nil, err
	}
	cfg.Chunking = t.Chunking
	cfg.Retrieval = t.Retrieval

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	return cfg, nil
}

// loadTuning reads the YAML tuning file over the defaults. An empty path yields the defaults.
func loadTuning(path string) (tuning, error) {
	t := defaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read tuning file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse tuning file %s: %w", path, err)
	}
	return t, nil
}

func applyTuningEnv(t *tuning) error {
	ints := []struct {
		key  string
		dest *int
	}{
		{"CHUNK_SIZE", &t.Chunking.ChunkSize},
		{"CHUNK_OVERLAP", &t.Chunking.Overlap},
		{"MIN_CHUNK_SIZE", &t.Chunking.MinChunkSize},
		{"RETRIEVAL_TOP_K", &t.Retrieval.TopK},
		{"CANDIDATE_POOL", &t.Retrieval.CandidatePool},
		{"EVIDENCE_CHAR_BUDGET", &t.Retrieval.EvidenceCharBudget},
		{"CONTEXT_WINDOW", &t.Retrieval.ContextWindow},
	}
	for _, i := range ints {
		v, err := getEnvInt(i.key, *i.dest)
		if err != nil {
			return err
		}
		*i.dest = v
	}

	respect, err := getEnvBool("RESPECT_SECTIONS", t.Chunking.RespectSections)
	if err != nil {
		return err
	}
	t.Chunking.RespectSections = respect
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error: %w", err)
	}
	return level, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("3s") or a plain number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
