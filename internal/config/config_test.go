package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setEnv sets an environment variable, ignoring errors (for test setup)
func setEnv(key, value string) {
	_ = os.Setenv(key, value)
}

// unsetEnv unsets an environment variable, ignoring errors (for test cleanup)
func unsetEnv(key string) {
	_ = os.Unsetenv(key)
}

var envVars = []string{
	"API_PORT", "LOG_LEVEL", "LOG_FORMAT",
	"DATA_DIR", "DB_PATH", "INDEX_PATH", "PAPERS_DIR",
	"VECTOR_BACKEND", "QDRANT_URL", "QDRANT_COLLECTION",
	"EMBEDDING_BASE_URL", "EMBEDDING_MODEL_NAME", "EMBEDDING_API_KEY", "EMBEDDING_DIM",
	"RERANK_ENABLED", "RERANK_BASE_URL", "RERANK_MODEL",
	"LLM_BASE_URL", "LLM_MODEL", "LLM_API_KEY",
	"OPENAI_BASE_URL", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_PROVIDER_NAME",
	"LLM_PREFERRED_PROVIDER", "LLM_MAX_RETRIES", "LLM_RETRY_BASE_DELAY",
	"LLM_QUOTA_COOLDOWN", "LLM_MIN_REQUEST_INTERVAL", "LLM_CALL_TIMEOUT",
	"REDIS_URL", "LLM_CACHE_TTL",
	"CHUNK_SIZE", "CHUNK_OVERLAP", "MIN_CHUNK_SIZE", "RESPECT_SECTIONS",
	"RETRIEVAL_TOP_K", "CANDIDATE_POOL", "EVIDENCE_CHAR_BUDGET", "CONTEXT_WINDOW",
	"TUNING_FILE",
}

// isolateEnv clears every config variable and moves into a temp directory without a
// .env file. Both are restored when the test ends.
func isolateEnv(t *testing.T) {
	t.Helper()
	originalEnv := make(map[string]string)
	for _, key := range envVars {
		originalEnv[key] = os.Getenv(key)
		unsetEnv(key)
	}
	originalWd, _ := os.Getwd()
	_ = os.Chdir(t.TempDir()) // Ignore error - test will fail if this doesn't work
	t.Cleanup(func() {
		_ = os.Chdir(originalWd)
		for key, value := range originalEnv {
			if value != "" {
				setEnv(key, value)
			} else {
				unsetEnv(key)
			}
		}
	})
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*Config) bool
	}{
		{
			name: "valid config with all required fields",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
			},
			checkConfig: func(cfg *Config) bool {
				return cfg.EmbeddingDim == 384
			},
		},
		{
			name:     "missing EMBEDDING_DIM",
			setupEnv: func(t *testing.T) {},
			wantErr:  true,
		},
		{
			name: "invalid EMBEDDING_DIM",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "invalid")
			},
			wantErr: true,
		},
		{
			name: "zero EMBEDDING_DIM",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "0")
			},
			wantErr: true,
		},
		{
			name: "negative EMBEDDING_DIM",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "-1")
			},
			wantErr: true,
		},
		{
			name: "unknown vector backend",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
				setEnv("VECTOR_BACKEND", "faiss")
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
				setEnv("LOG_LEVEL", "loud")
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
				setEnv("LOG_FORMAT", "xml")
			},
			wantErr: true,
		},
		{
			name: "invalid duration",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
				setEnv("LLM_QUOTA_COOLDOWN", "soon")
			},
			wantErr: true,
		},
		{
			name: "invalid boolean",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
				setEnv("RESPECT_SECTIONS", "maybe")
			},
			wantErr: true,
		},
		{
			name: "default values for optional fields",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
			},
			checkConfig: func(cfg *Config) bool {
				return cfg.APIPort == "9000" &&
					cfg.LogLevel == slog.LevelInfo &&
					cfg.LogFormat == "text" &&
					cfg.DBPath == filepath.Join("data", "paperqa.db") &&
					cfg.IndexPath == filepath.Join("data", "index") &&
					cfg.VectorBackend == "flat" &&
					cfg.QdrantCollection == "papers" &&
					cfg.RerankEnabled &&
					cfg.RerankBaseURL == "" &&
					cfg.LLMMaxRetries == 3 &&
					cfg.LLMRetryBaseDelay == 3*time.Second &&
					cfg.LLMQuotaCooldown == 300*time.Second &&
					cfg.LLMCallTimeout == 2*time.Minute &&
					cfg.LLMMinRequestInterval == 0 &&
					cfg.LLMCacheTTL == 24*time.Hour &&
					cfg.RedisURL == "" &&
					cfg.Chunking.ChunkSize == 2048 &&
					cfg.Chunking.Overlap == 512 &&
					cfg.Chunking.MinChunkSize == 400 &&
					cfg.Chunking.RespectSections &&
					cfg.Retrieval.TopK == 5 &&
					cfg.Retrieval.CandidatePool == 20 &&
					cfg.Retrieval.EvidenceCharBudget == 6000 &&
					cfg.Retrieval.UseCache
			},
		},
		{
			name: "custom optional values",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "768")
				setEnv("LOG_LEVEL", "debug")
				setEnv("LOG_FORMAT", "JSON")
				setEnv("VECTOR_BACKEND", "qdrant")
				setEnv("LLM_BASE_URL", "http://custom:9090")
				setEnv("LLM_MODEL", "custom-model")
				setEnv("LLM_RETRY_BASE_DELAY", "1.5")
				setEnv("LLM_CACHE_TTL", "2h")
				setEnv("RERANK_ENABLED", "false")
				setEnv("DB_PATH", filepath.Join(t.TempDir(), "custom", "db.db"))
			},
			checkConfig: func(cfg *Config) bool {
				return cfg.LogLevel == slog.LevelDebug &&
					cfg.LogFormat == "json" &&
					cfg.VectorBackend == "qdrant" &&
					cfg.LLMBaseURL == "http://custom:9090" &&
					cfg.LLMModelName == "custom-model" &&
					cfg.LLMRetryBaseDelay == 1500*time.Millisecond &&
					cfg.LLMCacheTTL == 2*time.Hour &&
					!cfg.RerankEnabled &&
					filepath.Base(cfg.DBPath) == "db.db" // Just check filename, path will vary with temp dir
			},
		},
		{
			name: "embedding has separate defaults from LLM",
			setupEnv: func(t *testing.T) {
				setEnv("EMBEDDING_DIM", "384")
				setEnv("LLM_BASE_URL", "http://custom:9090")
			},
			checkConfig: func(cfg *Config) bool {
				return cfg.LLMBaseURL == "http://custom:9090" &&
					cfg.EmbeddingBaseURL == "http://localhost:8081" &&
					cfg.EmbeddingModelName == "all-MiniLM-L6-v2"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()

			if tt.wantErr {
				if err == nil {
					t.Errorf("Load() expected error, got nil")
				}
				return
			}

			if err != nil {
				t.Errorf("Load() unexpected error: %v", err)
				return
			}

			if cfg == nil {
				t.Fatal("Load() returned nil config")
			}

			if tt.checkConfig != nil && !tt.checkConfig(cfg) {
				t.Errorf("Load() config validation failed: %+v", cfg)
			}
		})
	}
}

func TestLoad_TuningFile(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "tuning.yaml")
	content := `chunking:
  chunk_size: 1024
  overlap: 128
  min_chunk_size: 200
  respect_sections: false
retrieval:
  top_k: 8
  candidate_pool: 40
  context_window: 1
  use_cache: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	setEnv("EMBEDDING_DIM", "384")
	setEnv("TUNING_FILE", path)
	// Environment wins over the file.
	setEnv("RETRIEVAL_TOP_K", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wantChunking := ChunkingConfig{ChunkSize: 1024, Overlap: 128, MinChunkSize: 200, RespectSections: false}
	if cfg.Chunking != wantChunking {
		t.Errorf("Chunking = %+v, want %+v", cfg.Chunking, wantChunking)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Retrieval.CandidatePool != 40 || cfg.Retrieval.ContextWindow != 1 || cfg.Retrieval.UseCache {
		t.Errorf("Retrieval = %+v", cfg.Retrieval)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Retrieval.EvidenceCharBudget != 6000 {
		t.Errorf("Retrieval.EvidenceCharBudget = %d, want 6000", cfg.Retrieval.EvidenceCharBudget)
	}
}

func TestLoad_TuningFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
	}{
		{name: "missing file", missing: true},
		{name: "malformed yaml", content: "chunking: [unclosed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			path := filepath.Join(t.TempDir(), "tuning.yaml")
			if !tt.missing {
				if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
					t.Fatalf("WriteFile() error = %v", err)
				}
			}
			setEnv("EMBEDDING_DIM", "384")
			setEnv("TUNING_FILE", path)

			if _, err := Load(); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}

func TestLoad_CreatesDataDirectory(t *testing.T) {
	isolateEnv(t)

	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "state")
	dbPath := filepath.Join(tmpDir, "test", "db.db")

	setEnv("EMBEDDING_DIM", "384")
	setEnv("DATA_DIR", dataDir)
	setEnv("DB_PATH", dbPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, dir := range []string{dataDir, filepath.Dir(dbPath)} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Errorf("Load() should create %s: %v", dir, err)
		}
	}

	if cfg.DBPath != dbPath {
		t.Errorf("Load() DBPath = %v, want %v", cfg.DBPath, dbPath)
	}
	if cfg.IndexPath != filepath.Join(dataDir, "index") {
		t.Errorf("Load() IndexPath = %v", cfg.IndexPath)
	}
}

func TestGetEnv(t *testing.T) {
	originalValue := os.Getenv("TEST_ENV_VAR")
	defer func() {
		if originalValue != "" {
			setEnv("TEST_ENV_VAR", originalValue)
		} else {
			unsetEnv("TEST_ENV_VAR")
		}
	}()

	tests := []struct {
		name         string
		setupEnv     func()
		key          string
		defaultValue string
		want         string
	}{
		{
			name: "env var set",
			setupEnv: func() {
				setEnv("TEST_ENV_VAR", "set-value")
			},
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			want:         "set-value",
		},
		{
			name: "env var not set",
			setupEnv: func() {
				unsetEnv("TEST_ENV_VAR")
			},
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			want:         "default",
		},
		{
			name: "empty env var uses default",
			setupEnv: func() {
				setEnv("TEST_ENV_VAR", "")
			},
			key:          "TEST_ENV_VAR",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupEnv()
			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Cleanup(func() { unsetEnv("TEST_DURATION") })

	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{value: "", want: time.Minute},
		{value: "30", want: 30 * time.Second},
		{value: "0.25", want: 250 * time.Millisecond},
		{value: "45m", want: 45 * time.Minute},
		{value: "later", wantErr: true},
	}
	for _, tt := range tests {
		setEnv("TEST_DURATION", tt.value)
		got, err := getEnvDuration("TEST_DURATION", time.Minute)
		if (err != nil) != tt.wantErr {
			t.Errorf("getEnvDuration(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
