// Package config provides centralized configuration for the copydeck service.
// Values come from environment variables with defaults, optionally seeded
// from a .env.local file; the rules file adds authority lists and
// fabrication rules.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration values.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string

	// Port is the HTTP server listen port.
	Port string

	// DBPath is the path to the SQLite database file (jobs, and the cache
	// when CacheBackend is sqlite).
	DBPath string

	// CacheBackend selects the durable cache tier: "sqlite" or "badger".
	CacheBackend string
	// BadgerPath is the Badger directory when CacheBackend is badger.
	BadgerPath         string
	CacheCapacity      int
	CacheFastTTL       time.Duration
	CacheTTL           time.Duration
	CachePruneInterval time.Duration

	// LLMProvider selects which LLM backend to use: "openai", "claude", "gemini", "ollama", "stub".
	LLMProvider string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	AnthropicKey   string
	AnthropicModel string

	GeminiKey   string
	GeminiModel string

	OllamaURL   string
	OllamaModel string

	// HTTPTimeout is the timeout for outgoing HTTP requests (extract, LLM).
	HTTPTimeout time.Duration
	// StageTimeout bounds a single provider call within a stage.
	StageTimeout time.Duration

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      float64

	// ProviderRPS limits provider calls per second across the process.
	// Zero disables the limit.
	ProviderRPS   float64
	ProviderBurst int

	// ConfidencePolicy names the confidence strategy: "graded" or "primary-content".
	ConfidencePolicy string
	// QualityLevel is the guard's gate level: "standard" or "strict".
	QualityLevel string

	// RulesFile is an optional YAML file with authority lists and fabrication rules.
	RulesFile string

	// WorkerInterval is the polling interval for the background worker.
	WorkerInterval time.Duration

	// MaxTextLength is the maximum number of runes to keep from extracted text.
	MaxTextLength int

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string

	// OTelStdout exports trace spans to stdout.
	OTelStdout bool
}

// Load reads configuration from environment variables, applying defaults.
// A .env.local file (or ENV_FILE) is read first; variables already set in
// the environment win over the file.
func Load() Config {
	loadEnvFile(envOr("ENV_FILE", ".env.local"))

	return Config{
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "text"),
		Port:               envOr("PORT", "8080"),
		DBPath:             envOr("DB_PATH", "copydeck.db"),
		CacheBackend:       strings.ToLower(envOr("CACHE_BACKEND", "sqlite")),
		BadgerPath:         envOr("BADGER_PATH", "copydeck-cache"),
		CacheCapacity:      envInt("CACHE_CAPACITY", 512),
		CacheFastTTL:       envDuration("CACHE_FAST_TTL", 5*time.Minute),
		CacheTTL:           envDuration("CACHE_TTL", 24*time.Hour),
		CachePruneInterval: envDuration("CACHE_PRUNE_INTERVAL", 10*time.Minute),
		LLMProvider:        strings.ToLower(envOr("LLM_PROVIDER", "openai")),
		OpenAIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:        envOr("OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicKey:       os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:     envOr("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiKey:          os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		OllamaURL:          envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:        envOr("OLLAMA_MODEL", "llama3"),
		HTTPTimeout:        envDuration("HTTP_TIMEOUT", 60*time.Second),
		StageTimeout:       envDuration("STAGE_TIMEOUT", 30*time.Second),
		RetryMaxAttempts:   envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     envDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:      envDuration("RETRY_MAX_DELAY", 8*time.Second),
		RetryJitter:        envFloat("RETRY_JITTER", 0.2),
		ProviderRPS:        envFloat("PROVIDER_RPS", 0),
		ProviderBurst:      envInt("PROVIDER_BURST", 4),
		ConfidencePolicy:   envOr("CONFIDENCE_POLICY", "graded"),
		QualityLevel:       envOr("QUALITY_LEVEL", "standard"),
		RulesFile:          os.Getenv("RULES_FILE"),
		WorkerInterval:     envDuration("WORKER_INTERVAL", 3*time.Second),
		MaxTextLength:      envInt("MAX_TEXT_LENGTH", 15000),
		CORSOrigin:         envOr("CORS_ORIGIN", "*"),
		OTelStdout:         envBool("OTEL_STDOUT", false),
	}
}

// UseStubs returns true when no LLM API key is configured for the selected provider.
func (c Config) UseStubs() bool {
	switch c.LLMProvider {
	case "stub":
		return true
	case "claude":
		return c.AnthropicKey == ""
	case "gemini":
		return c.GeminiKey == ""
	case "ollama":
		return false // Ollama runs locally, no key needed
	default:
		return c.OpenAIKey == ""
	}
}

// loadEnvFile loads KEY=VALUE pairs from path into the environment, keeping
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(strings.TrimPrefix(k, "export "))
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if _, set := os.LookupEnv(k); !set {
			os.Setenv(k, v)
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
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

func envFloat(key string, fallback float64) float64 {
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

func envBool(key string, fallback bool) bool {
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
