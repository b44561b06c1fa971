// Package config loads process configuration from the environment, with
// defaults suitable for local development.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config holds all configuration for the knowledge base server.
type Config struct {
	Port      int
	Version   string
	Storage   StorageConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Worker    WorkerConfig
	Providers ProviderDefaultsConfig
	Upload    UploadConfig
}

// StorageConfig locates the catalog database file, the vector-store data
// root, and (optionally) a pgvector connection string.
type StorageConfig struct {
	DataDir      string
	CatalogPath  string
	VectorDriver string // "embedded" or "pgvector"
	PgvectorURL  string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	APIKeys []string // comma-separated KB_API_KEY; empty disables auth
}

type WorkerConfig struct {
	PoolSize int
}

// ProviderDefaultsConfig is the process-wide fallback used by the
// Organization Config Resolver for the system tenant and by
// collection creation when a ProviderDescriptor field is "default".
type ProviderDefaultsConfig struct {
	EmbeddingsVendor   string
	EmbeddingsModel    string
	EmbeddingsEndpoint string
	EmbeddingsAPIKey   string

	OpenAIAPIKey       string
	OpenAIModels       []string
	OpenAIDefaultModel string

	OllamaURL    string
	OllamaModels []string

	KnowledgeBaseServerURL string
	KnowledgeBaseToken     string
}

type UploadConfig struct {
	StaticRoot    string
	MaxUploadByte int64
	MaxBodyByte   int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	dataDir := envStr("KB_DATA_DIR", defaultDataDir())

	return &Config{
		Port:    envInt("KB_PORT", 9090),
		Version: envStr("KB_VERSION", "0.1.0"),
		Storage: StorageConfig{
			DataDir:      dataDir,
			CatalogPath:  envStr("KB_CATALOG_PATH", filepath.Join(dataDir, "catalog.db")),
			VectorDriver: envStr("VECTOR_STORE_DRIVER", "embedded"),
			PgvectorURL:  envStr("KB_PGVECTOR_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "knowledge-base-server"),
		},
		Auth: AuthConfig{
			APIKeys: envList("KB_API_KEY", nil),
		},
		Worker: WorkerConfig{
			PoolSize: envInt("WORKER_POOL_SIZE", runtime.NumCPU()),
		},
		Providers: ProviderDefaultsConfig{
			EmbeddingsVendor:   envStr("EMBEDDINGS_VENDOR", "ollama"),
			EmbeddingsModel:    envStr("EMBEDDINGS_MODEL", "nomic-embed-text"),
			EmbeddingsEndpoint: envStr("EMBEDDINGS_ENDPOINT", "http://localhost:11434"),
			EmbeddingsAPIKey:   envStr("EMBEDDINGS_APIKEY", ""),

			OpenAIAPIKey:       envStr("OPENAI_API_KEY", ""),
			OpenAIModels:       envList("OPENAI_MODELS", []string{"gpt-4o-mini"}),
			OpenAIDefaultModel: envStr("OPENAI_DEFAULT_MODEL", "gpt-4o-mini"),

			OllamaURL:    envStr("OLLAMA_URL", "http://localhost:11434"),
			OllamaModels: envList("OLLAMA_MODELS", []string{"llama3"}),

			KnowledgeBaseServerURL: envStr("KB_SERVER_URL", "http://localhost:9090"),
			KnowledgeBaseToken:     envStr("KB_SERVER_TOKEN", ""),
		},
		Upload: UploadConfig{
			StaticRoot:    envStr("UPLOAD_STATIC_ROOT", filepath.Join(dataDir, "static")),
			MaxUploadByte: int64(envInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
			MaxBodyByte:   int64(envInt("MAX_BODY_BYTES", 10*1024*1024)),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.kbserver"
	}
	return filepath.Join(home, ".kbserver")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
