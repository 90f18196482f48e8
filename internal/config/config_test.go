package config

import (
	"os"
	"testing"
	"time"
)

func clearHlasEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key := kv[:i]
				switch key {
				case "HTTP_ADDR", "POSTGRES_DSN", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
					"QDRANT_DSN", "QDRANT_COLLECTION", "QDRANT_DIMENSIONS", "QDRANT_METRIC",
					"LLM_PROVIDER", "LLM_MODEL", "LLM_RESPONSE_MODEL", "LLM_API_KEY", "LLM_BASE_URL",
					"LLM_TEMPERATURE_X10", "EMBEDDER_PROVIDER", "EMBEDDER_MODEL", "EMBEDDER_API_KEY",
					"EMBEDDER_BASE_URL", "APP_TIMEZONE", "SESSION_IDLE_RESET_SECONDS",
					"SESSION_CACHE_TTL_SECONDS", "RL_WINDOW_SECONDS", "RL_MAX_MESSAGES",
					"DEDUPE_TTL_SECONDS", "ORDER_TTL_SECONDS", "LOCK_TTL_SECONDS", "LOCK_WAIT_SECONDS",
					"RETRIEVAL_ALPHA", "RETRIEVAL_TOP_K", "RETRIEVAL_FALLBACK_K", "MESSAGE_MAX_CHARS",
					"HISTORY_TRUNCATE_CHARS", "OUTBOUND_RETRIES", "META_VERIFY_TOKEN", "META_APP_SECRET",
					"META_ACCESS_TOKEN", "META_PHONE_NUMBER_ID", "META_API_BASE_URL":
					_ = os.Unsetenv(key)
				}
				break
			}
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearHlasEnv(t)
	cfg := Load()

	if cfg.HTTPAddr != ":8000" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.Vector.DSN != "http://127.0.0.1:6334" || cfg.Vector.Collection != "insurance_knowledge_base" || cfg.Vector.Dimensions != 1536 {
		t.Fatalf("unexpected Vector config: %+v", cfg.Vector)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected LLM config: %+v", cfg.LLM)
	}
	if cfg.Embedder.Model != "text-embedding-3-small" {
		t.Fatalf("unexpected Embedder config: %+v", cfg.Embedder)
	}
	if cfg.Timezone != "Asia/Singapore" {
		t.Fatalf("Timezone = %q", cfg.Timezone)
	}
	if cfg.IdleResetSeconds != 900 || cfg.SessionTTLSeconds != 900 {
		t.Fatalf("unexpected session timings: idle=%d ttl=%d", cfg.IdleResetSeconds, cfg.SessionTTLSeconds)
	}
	if cfg.RateLimitWindowSeconds != 60 || cfg.RateLimitMaxMessages != 10 {
		t.Fatalf("unexpected rate limit config: %+v", cfg)
	}
	if cfg.RetrievalAlpha != 0.7 || cfg.RetrievalTopK != 10 || cfg.RetrievalFallbackK != 5 {
		t.Fatalf("unexpected retrieval config: alpha=%v topK=%d fallbackK=%d", cfg.RetrievalAlpha, cfg.RetrievalTopK, cfg.RetrievalFallbackK)
	}
	if cfg.OutboundRetries != 3 || cfg.OutboundInitialBackoff != 500*time.Millisecond {
		t.Fatalf("unexpected outbound retry config: retries=%d backoff=%v", cfg.OutboundRetries, cfg.OutboundInitialBackoff)
	}
	if cfg.WhatsApp.APIBaseURL != "https://graph.facebook.com/v18.0" {
		t.Fatalf("WhatsApp.APIBaseURL = %q", cfg.WhatsApp.APIBaseURL)
	}
}

func TestLoadHonorsOverrides(t *testing.T) {
	clearHlasEnv(t)
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("RL_MAX_MESSAGES", "25")
	t.Setenv("RETRIEVAL_ALPHA", "0.5")

	cfg := Load()

	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.RateLimitMaxMessages != 25 {
		t.Fatalf("RateLimitMaxMessages = %d", cfg.RateLimitMaxMessages)
	}
	if cfg.RetrievalAlpha != 0.5 {
		t.Fatalf("RetrievalAlpha = %v", cfg.RetrievalAlpha)
	}
}

func TestLoadResponseModelFallsBackToModel(t *testing.T) {
	clearHlasEnv(t)
	t.Setenv("LLM_MODEL", "gpt-4o")

	cfg := Load()
	if cfg.LLM.ResponseModel != "gpt-4o" {
		t.Fatalf("ResponseModel = %q, want fallback to Model", cfg.LLM.ResponseModel)
	}
}
