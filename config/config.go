package config

import (
	"os"
	"strconv"
	"time"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	CacheBackendFilesystem = "filesystem"
	CacheBackendPostgres   = "postgres"
)

type LLMConfig struct {
	Provider    string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

type EmbeddingsConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type SpeechConfig struct {
	CredentialsFile string
	LanguageCode    string
	Timeout         time.Duration
}

type Config struct {
	PostgresDSN string

	Neo4jURI  string
	Neo4jUser string
	Neo4jPass string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// MediaRoot is the directory lecture locators are resolved against.
	MediaRoot string

	CacheBackend string
	CacheDir     string

	HTTPAddr string

	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Speech     SpeechConfig
}

func Load() Config {
	return Config{
		PostgresDSN:   getEnv("POSTGRES_DSN", "postgres://localhost:5432/quizrag?sslmode=disable"),
		Neo4jURI:      getEnv("NEO4J_URI", ""),
		Neo4jUser:     getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:     getEnv("NEO4J_PASSWORD", "password"),
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		MediaRoot:     getEnv("MEDIA_ROOT", "media"),
		CacheBackend:  getEnv("INDEX_CACHE_BACKEND", CacheBackendFilesystem),
		CacheDir:      getEnv("INDEX_CACHE_DIR", "rag_cache"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8090"),
		LLM: LLMConfig{
			Provider:    getEnv("LLM_PROVIDER", ProviderOpenAI),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: float32(getEnvFloat("LLM_TEMPERATURE", 0)),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 25*time.Second),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderOpenAI),
			Model:     getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 1536),
		},
		Speech: SpeechConfig{
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			LanguageCode:    getEnv("SPEECH_LANGUAGE", "en-US"),
			Timeout:         getEnvDuration("SPEECH_TIMEOUT", 3*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
