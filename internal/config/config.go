package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

type Config struct {
	APIPort  string
	LogLevel string

	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	SearchEndpoint    string
	SearchAPIKey      string
	SearchIndexDocs   string
	SearchIndexChunks string

	LLMEndpoint     string
	LLMAPIKey       string
	LLMDeployment   string
	LLMAPIVersion   string
	LLMTemperature  float64
	EmbedEndpoint   string
	EmbedDeployment string

	SimThreshold   float64
	TopKChunks     int
	TopKDocs       int
	ListPageSize   int
	LatencyBudget  int
	SQLTimeoutMS   int
	IndexTimeoutMS int

	NATSURL     string
	NATSSubject string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	EmbedCacheSize       int
	EmbedCachePath       string
	EmbedCacheFlushEvery int

	PlacesCatalogPath string

	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int

	WorkerMetricsPort string
}

func Load() Config {
	return Config{
		APIPort:  mustEnv("API_PORT", "8080"),
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		DBHost:     mustEnv("DB_HOST", "localhost"),
		DBPort:     mustEnv("DB_PORT", "5432"),
		DBName:     mustEnv("DB_NAME", "expedientes"),
		DBUser:     mustEnv("DB_USER", "postgres"),
		DBPassword: mustEnv("DB_PASSWORD", "postgres"),
		DBSSLMode:  mustEnv("DB_SSL_MODE", "require"),

		SearchEndpoint:    mustEnv("SEARCH_ENDPOINT", ""),
		SearchAPIKey:      mustEnv("SEARCH_KEY", ""),
		SearchIndexDocs:   mustEnv("SEARCH_INDEX_DOCS", "expedientes-documentos"),
		SearchIndexChunks: mustEnv("SEARCH_INDEX_CHUNKS", "expedientes-chunks"),

		LLMEndpoint:     mustEnv("LLM_ENDPOINT", ""),
		LLMAPIKey:       mustEnv("LLM_API_KEY", ""),
		LLMDeployment:   mustEnv("LLM_DEPLOYMENT", "gpt-4o"),
		LLMAPIVersion:   mustEnv("LLM_API_VERSION", "2024-02-01"),
		LLMTemperature:  mustEnvFloat("LLM_TEMPERATURE", 0.1),
		EmbedEndpoint:   mustEnv("EMBEDDING_ENDPOINT", ""),
		EmbedDeployment: mustEnv("EMBEDDING_DEPLOYMENT", "text-embedding-3-small"),

		SimThreshold:   mustEnvFloat("SIM_THRESHOLD", 0.7),
		TopKChunks:     mustEnvInt("TOP_K_CHUNKS", 8),
		TopKDocs:       mustEnvInt("TOP_K_DOCS", 3),
		ListPageSize:   mustEnvInt("LIST_PAGE_SIZE", 20),
		LatencyBudget:  mustEnvInt("LATENCY_BUDGET_MS", 30000),
		SQLTimeoutMS:   mustEnvInt("SQL_TIMEOUT_MS", 10000),
		IndexTimeoutMS: mustEnvInt("INDEX_TIMEOUT_MS", 10000),

		NATSURL:     mustEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject: mustEnv("NATS_SUBJECT", "queries.trace"),

		Neo4jURI:      mustEnv("NEO4J_URI", ""),
		Neo4jUser:     mustEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: mustEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: mustEnv("NEO4J_DATABASE", ""),

		EmbedCacheSize:       mustEnvInt("EMBED_CACHE_SIZE", 512),
		EmbedCachePath:       mustEnv("EMBED_CACHE_PATH", "./data/embed_cache.gob"),
		EmbedCacheFlushEvery: mustEnvInt("EMBED_CACHE_FLUSH_EVERY", 32),

		PlacesCatalogPath: mustEnv("PLACES_CATALOG_PATH", ""),

		RateLimitRPS:   mustEnvFloat("API_RATE_LIMIT_RPS", 10),
		RateLimitBurst: mustEnvInt("API_RATE_LIMIT_BURST", 20),
		MaxInFlight:    mustEnvInt("API_MAX_IN_FLIGHT", 32),

		WorkerMetricsPort: mustEnv("WORKER_METRICS_PORT", "9090"),
	}
}

// PostgresDSN assembles the connection string from the discrete DB keys.
// The password is URL-escaped so credentials with special characters work.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(c.DBUser),
		url.QueryEscape(c.DBPassword),
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// GraphEnabled reports whether the optional neo4j view is configured.
func (c Config) GraphEnabled() bool {
	return c.Neo4jURI != ""
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
