// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every externally tunable knob named in the specification's
// "Configuration (enumerated)" section.
type Config struct {
	HTTPAddr string

	Postgres PostgresConfig
	Redis    RedisConfig
	Vector   VectorConfig

	LLM      LLMConfig
	Embedder EmbedderConfig

	Timezone string

	IdleResetSeconds  int
	SessionTTLSeconds int

	RateLimitWindowSeconds int
	RateLimitMaxMessages   int

	DedupeTTLSeconds int
	OrderTTLSeconds  int

	LockTTLSeconds  int
	LockWaitSeconds int

	RetrievalAlpha     float64
	RetrievalTopK      int
	RetrievalFallbackK int

	MessageMaxChars        int
	HistoryTruncateChars   int
	OutboundRetries        int
	OutboundInitialBackoff time.Duration

	WhatsApp WhatsAppConfig
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type VectorConfig struct {
	DSN        string
	Collection string
	Dimensions int
	Metric     string
}

type LLMConfig struct {
	Provider       string // "openai" | "anthropic"
	Model          string
	ResponseModel  string // model used for the user-facing response LLM
	APIKey         string
	BaseURL        string
	TemperatureX10 int // temperature * 10, to keep config parsing integer-only
}

type EmbedderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

type WhatsAppConfig struct {
	VerifyToken   string
	AppSecret     string
	AccessToken   string
	PhoneNumberID string
	APIBaseURL    string
}

// Load reads configuration from the environment (optionally via a .env file)
// and applies the defaults enumerated in the specification.
func Load() Config {
	_ = godotenv.Overload()

	cfg := Config{
		HTTPAddr: firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8000"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			Addr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntDefault(os.Getenv("REDIS_DB"), 0),
		},
		Vector: VectorConfig{
			DSN:        firstNonEmpty(os.Getenv("QDRANT_DSN"), "http://127.0.0.1:6334"),
			Collection: firstNonEmpty(os.Getenv("QDRANT_COLLECTION"), "insurance_knowledge_base"),
			Dimensions: parseIntDefault(os.Getenv("QDRANT_DIMENSIONS"), 1536),
			Metric:     firstNonEmpty(os.Getenv("QDRANT_METRIC"), "cosine"),
		},
		LLM: LLMConfig{
			Provider:       firstNonEmpty(os.Getenv("LLM_PROVIDER"), "openai"),
			Model:          firstNonEmpty(os.Getenv("LLM_MODEL"), "gpt-4o-mini"),
			ResponseModel:  firstNonEmpty(os.Getenv("LLM_RESPONSE_MODEL"), os.Getenv("LLM_MODEL")),
			APIKey:         os.Getenv("LLM_API_KEY"),
			BaseURL:        os.Getenv("LLM_BASE_URL"),
			TemperatureX10: parseIntDefault(os.Getenv("LLM_TEMPERATURE_X10"), 0),
		},
		Embedder: EmbedderConfig{
			Provider: firstNonEmpty(os.Getenv("EMBEDDER_PROVIDER"), "openai"),
			Model:    firstNonEmpty(os.Getenv("EMBEDDER_MODEL"), "text-embedding-3-small"),
			APIKey:   firstNonEmpty(os.Getenv("EMBEDDER_API_KEY"), os.Getenv("LLM_API_KEY")),
			BaseURL:  os.Getenv("EMBEDDER_BASE_URL"),
		},

		Timezone: firstNonEmpty(os.Getenv("APP_TIMEZONE"), "Asia/Singapore"),

		IdleResetSeconds:  parseIntDefault(os.Getenv("SESSION_IDLE_RESET_SECONDS"), 900),
		SessionTTLSeconds: parseIntDefault(os.Getenv("SESSION_CACHE_TTL_SECONDS"), 900),

		RateLimitWindowSeconds: parseIntDefault(os.Getenv("RL_WINDOW_SECONDS"), 60),
		RateLimitMaxMessages:   parseIntDefault(os.Getenv("RL_MAX_MESSAGES"), 10),

		DedupeTTLSeconds: parseIntDefault(os.Getenv("DEDUPE_TTL_SECONDS"), 86400),
		OrderTTLSeconds:  parseIntDefault(os.Getenv("ORDER_TTL_SECONDS"), 86400),

		LockTTLSeconds:  parseIntDefault(os.Getenv("LOCK_TTL_SECONDS"), 15),
		LockWaitSeconds: parseIntDefault(os.Getenv("LOCK_WAIT_SECONDS"), 5),

		RetrievalAlpha:     parseFloatDefault(os.Getenv("RETRIEVAL_ALPHA"), 0.7),
		RetrievalTopK:      parseIntDefault(os.Getenv("RETRIEVAL_TOP_K"), 10),
		RetrievalFallbackK: parseIntDefault(os.Getenv("RETRIEVAL_FALLBACK_K"), 5),

		MessageMaxChars:      parseIntDefault(os.Getenv("MESSAGE_MAX_CHARS"), 4096),
		HistoryTruncateChars: parseIntDefault(os.Getenv("HISTORY_TRUNCATE_CHARS"), 100),
		OutboundRetries:      parseIntDefault(os.Getenv("OUTBOUND_RETRIES"), 3),

		WhatsApp: WhatsAppConfig{
			VerifyToken:   os.Getenv("META_VERIFY_TOKEN"),
			AppSecret:     os.Getenv("META_APP_SECRET"),
			AccessToken:   os.Getenv("META_ACCESS_TOKEN"),
			PhoneNumberID: os.Getenv("META_PHONE_NUMBER_ID"),
			APIBaseURL:    firstNonEmpty(os.Getenv("META_API_BASE_URL"), "https://graph.facebook.com/v18.0"),
		},
	}
	cfg.OutboundInitialBackoff = 500 * time.Millisecond
	return cfg
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseIntDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloatDefault(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
