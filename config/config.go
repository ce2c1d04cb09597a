package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is read from the environment once at startup and never changes
// for the process lifetime.
type Config struct {
	ServerAddr string

	PGHost   string
	PGPort   int
	PGUser   string
	PGPass   string
	PGDBName string

	EmbedURL   string
	EmbedModel string
	EmbedDim   int

	ChunkChars   int
	ChunkOverlap int

	// Best retrieved cosine distance above this means "not relevant enough".
	MaxCosineDistance float64

	LLMEnabled     bool
	LLMURL         string
	LLMModel       string
	LLMTimeout     time.Duration
	LLMTokenBudget int
}

func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:        getEnv("SERVER_ADDR", ":8000"),
		PGHost:            os.Getenv("PG_HOST"),
		PGPort:            getEnvInt("PG_PORT", 5432),
		PGUser:            os.Getenv("PG_USER"),
		PGPass:            os.Getenv("PG_PASS"),
		PGDBName:          os.Getenv("PG_DB_NAME"),
		EmbedURL:          os.Getenv("EMBED_URL"),
		EmbedModel:        getEnv("EMBED_MODEL", "nomic-embed-text"),
		EmbedDim:          getEnvInt("EMBED_DIM", 384),
		ChunkChars:        getEnvInt("CHUNK_CHARS", 1200),
		ChunkOverlap:      getEnvInt("CHUNK_OVERLAP", 200),
		MaxCosineDistance: getEnvFloat("MAX_COSINE_DISTANCE", 0.35),
		LLMEnabled:        getEnvBool("LLM_ENABLED", false),
		LLMURL:            os.Getenv("LLM_URL"),
		LLMModel:          os.Getenv("LLM_MODEL"),
		LLMTimeout:        time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
		LLMTokenBudget:    getEnvInt("LLM_PROMPT_TOKEN_BUDGET", 3000),
	}

	if cfg.PGHost == "" || cfg.PGUser == "" || cfg.PGDBName == "" {
		return nil, fmt.Errorf("missing required Postgres settings (PG_HOST, PG_USER, PG_DB_NAME)")
	}
	if cfg.EmbedURL == "" {
		return nil, fmt.Errorf("missing required setting EMBED_URL")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkChars {
		return nil, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_CHARS): got %d / %d", cfg.ChunkOverlap, cfg.ChunkChars)
	}
	if cfg.LLMEnabled && cfg.LLMURL == "" {
		return nil, fmt.Errorf("LLM_ENABLED is set but LLM_URL is empty")
	}
	return cfg, nil
}

func (c *Config) PostgresConnStr() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.PGHost, c.PGPort, c.PGUser, c.PGPass, c.PGDBName)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
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

func getEnvFloat(key string, fallback float64) float64 {
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

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
