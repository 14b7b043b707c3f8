package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env.local")
	content := `# provider settings
COPYDECK_TEST_PLAIN=hello
COPYDECK_TEST_DOUBLE="quoted value"
COPYDECK_TEST_SINGLE='single quoted'
export COPYDECK_TEST_EXPORTED=yes

COPYDECK_TEST_AFTER_BLANK=works
NO_VALUE_LINE
`
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	keys := []string{"COPYDECK_TEST_PLAIN", "COPYDECK_TEST_DOUBLE", "COPYDECK_TEST_SINGLE", "COPYDECK_TEST_EXPORTED", "COPYDECK_TEST_AFTER_BLANK", "NO_VALUE_LINE"}
	clearEnv(t, keys...)

	loadEnvFile(envFile)

	want := map[string]string{
		"COPYDECK_TEST_PLAIN":       "hello",
		"COPYDECK_TEST_DOUBLE":      "quoted value",
		"COPYDECK_TEST_SINGLE":      "single quoted",
		"COPYDECK_TEST_EXPORTED":    "yes",
		"COPYDECK_TEST_AFTER_BLANK": "works",
	}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if _, set := os.LookupEnv("NO_VALUE_LINE"); set {
		t.Error("a line without '=' should be ignored")
	}
}

func TestLoadEnvFile_RealEnvWins(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env.local")
	if err := os.WriteFile(envFile, []byte("COPYDECK_TEST_PRECEDENCE=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COPYDECK_TEST_PRECEDENCE", "from-env")

	loadEnvFile(envFile)

	if got := os.Getenv("COPYDECK_TEST_PRECEDENCE"); got != "from-env" {
		t.Errorf("env var = %q, want from-env", got)
	}
}

func TestLoadEnvFile_MissingFile(t *testing.T) {
	loadEnvFile(filepath.Join(t.TempDir(), "absent.env"))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t,
		"LOG_LEVEL", "LOG_FORMAT", "PORT", "DB_PATH", "LLM_PROVIDER",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MODEL",
		"CACHE_BACKEND", "CACHE_CAPACITY", "CACHE_TTL", "CACHE_FAST_TTL",
		"RETRY_MAX_ATTEMPTS", "RETRY_JITTER", "PROVIDER_RPS",
		"CONFIDENCE_POLICY", "QUALITY_LEVEL", "WORKER_INTERVAL",
		"STAGE_TIMEOUT", "MAX_TEXT_LENGTH", "CORS_ORIGIN", "OTEL_STDOUT",
	)
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))

	cfg := Load()

	checks := []struct {
		name      string
		got, want any
	}{
		{"Port", cfg.Port, "8080"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"LLMProvider", cfg.LLMProvider, "openai"},
		{"OpenAIBaseURL", cfg.OpenAIBaseURL, "https://api.openai.com/v1"},
		{"OpenAIModel", cfg.OpenAIModel, "gpt-4o-mini"},
		{"CacheBackend", cfg.CacheBackend, "sqlite"},
		{"CacheCapacity", cfg.CacheCapacity, 512},
		{"CacheFastTTL", cfg.CacheFastTTL, 5 * time.Minute},
		{"CacheTTL", cfg.CacheTTL, 24 * time.Hour},
		{"RetryMaxAttempts", cfg.RetryMaxAttempts, 3},
		{"RetryJitter", cfg.RetryJitter, 0.2},
		{"ProviderRPS", cfg.ProviderRPS, 0.0},
		{"StageTimeout", cfg.StageTimeout, 30 * time.Second},
		{"ConfidencePolicy", cfg.ConfidencePolicy, "graded"},
		{"QualityLevel", cfg.QualityLevel, "standard"},
		{"WorkerInterval", cfg.WorkerInterval, 3 * time.Second},
		{"MaxTextLength", cfg.MaxTextLength, 15000},
		{"CORSOrigin", cfg.CORSOrigin, "*"},
		{"OTelStdout", cfg.OTelStdout, false},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	t.Setenv("OPENAI_BASE_URL", "https://llm.example.com/v1")
	t.Setenv("OPENAI_MODEL", "google/gemini-2.5-flash")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("CACHE_BACKEND", "Badger")
	t.Setenv("PROVIDER_RPS", "2.5")
	t.Setenv("OTEL_STDOUT", "true")

	cfg := Load()

	if cfg.OpenAIBaseURL != "https://llm.example.com/v1" || cfg.OpenAIModel != "google/gemini-2.5-flash" || cfg.OpenAIKey != "sk-test-key" {
		t.Errorf("openai settings = %q %q %q", cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIKey)
	}
	if cfg.LLMProvider != "openai" || cfg.CacheBackend != "badger" {
		t.Errorf("provider/backend should be lower-cased, got %q/%q", cfg.LLMProvider, cfg.CacheBackend)
	}
	if cfg.ProviderRPS != 2.5 || !cfg.OTelStdout {
		t.Errorf("ProviderRPS = %v, OTelStdout = %v", cfg.ProviderRPS, cfg.OTelStdout)
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "custom.env")
	if err := os.WriteFile(envFile, []byte("WORKER_INTERVAL=250ms\n"), 0644); err != nil {
		t.Fatal(err)
	}
	clearEnv(t, "WORKER_INTERVAL")
	t.Setenv("ENV_FILE", envFile)

	if got := Load().WorkerInterval; got != 250*time.Millisecond {
		t.Errorf("WorkerInterval = %v, want 250ms from the env file", got)
	}
}

func TestUseStubs(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantStub bool
	}{
		{"openai without key", Config{LLMProvider: "openai"}, true},
		{"openai with key", Config{LLMProvider: "openai", OpenAIKey: "sk-x"}, false},
		{"claude without key", Config{LLMProvider: "claude"}, true},
		{"claude with key", Config{LLMProvider: "claude", AnthropicKey: "sk-x"}, false},
		{"gemini without key", Config{LLMProvider: "gemini"}, true},
		{"gemini with key", Config{LLMProvider: "gemini", GeminiKey: "key"}, false},
		{"ollama needs no key", Config{LLMProvider: "ollama"}, false},
		{"stub ignores keys", Config{LLMProvider: "stub", OpenAIKey: "sk-x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.UseStubs(); got != tt.wantStub {
				t.Errorf("UseStubs() = %v, want %v", got, tt.wantStub)
			}
		})
	}
}

func TestEnvParsers_FallBackOnInvalid(t *testing.T) {
	t.Setenv("COPYDECK_TEST_VALUE", "not-a-number")

	if got := envDuration("COPYDECK_TEST_VALUE", 5*time.Second); got != 5*time.Second {
		t.Errorf("envDuration = %v, want fallback", got)
	}
	if got := envInt("COPYDECK_TEST_VALUE", 42); got != 42 {
		t.Errorf("envInt = %d, want fallback", got)
	}
	if got := envFloat("COPYDECK_TEST_VALUE", 1.5); got != 1.5 {
		t.Errorf("envFloat = %v, want fallback", got)
	}
	if got := envBool("COPYDECK_TEST_VALUE", true); !got {
		t.Error("envBool should return the fallback")
	}
}

func TestEnvParsers_Valid(t *testing.T) {
	t.Setenv("COPYDECK_TEST_DUR", "90s")
	t.Setenv("COPYDECK_TEST_INT", "7")
	t.Setenv("COPYDECK_TEST_FLOAT", "0.25")
	t.Setenv("COPYDECK_TEST_BOOL", "1")

	if got := envDuration("COPYDECK_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("envDuration = %v", got)
	}
	if got := envInt("COPYDECK_TEST_INT", 0); got != 7 {
		t.Errorf("envInt = %d", got)
	}
	if got := envFloat("COPYDECK_TEST_FLOAT", 0); got != 0.25 {
		t.Errorf("envFloat = %v", got)
	}
	if got := envBool("COPYDECK_TEST_BOOL", false); !got {
		t.Error("envBool(1) = false")
	}
}
