package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	StorageBackend string // postgres or memory
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool

	// LLM provider selection
	LLMProvider         string // openai_chat, openai_responses, bedrock or gemini
	LLMFallbackProvider string
	LLMModel            string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	GeminiAPIKey        string
	GeminiModel         string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BedrockModelID      string

	// Clinic and booking
	ClinicID           string
	ClinicTimezone     string
	AvailabilityMargin time.Duration
	SessionTTL         time.Duration

	// Few-shot corpus
	FewShotTokenBudget int
	FewShotS3Bucket    string
	FewShotS3Key       string

	// Cost accounting
	LLMInputUSDPerMTok  float64
	LLMOutputUSDPerMTok float64
	CostCurrency        string
	USDExchangeRate     float64

	TurnRetryDelay time.Duration

	// HTTP surface
	AdminJWTSecret     string
	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StorageBackend: strings.ToLower(strings.TrimSpace(getEnv("STORAGE_BACKEND", "postgres"))),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai_chat"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),

		ClinicID:           getEnv("CLINIC_ID", "default"),
		ClinicTimezone:     getEnv("CLINIC_TIMEZONE", "America/Sao_Paulo"),
		AvailabilityMargin: getEnvAsDuration("AVAILABILITY_MARGIN", time.Hour),
		SessionTTL:         getEnvAsDuration("SESSION_TTL", time.Hour),

		FewShotTokenBudget: getEnvAsInt("FEWSHOT_TOKEN_BUDGET", 1200),
		FewShotS3Bucket:    getEnv("FEWSHOT_S3_BUCKET", ""),
		FewShotS3Key:       getEnv("FEWSHOT_S3_KEY", "fewshot/corpus.jsonl"),

		LLMInputUSDPerMTok:  getEnvAsFloat("LLM_INPUT_USD_PER_MTOK", 0.15),
		LLMOutputUSDPerMTok: getEnvAsFloat("LLM_OUTPUT_USD_PER_MTOK", 0.60),
		CostCurrency:        strings.ToUpper(strings.TrimSpace(getEnv("COST_CURRENCY", "BRL"))),
		USDExchangeRate:     getEnvAsFloat("USD_EXCHANGE_RATE", 5.0),

		TurnRetryDelay: getEnvAsDuration("TURN_RETRY_DELAY", time.Second),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// UsesMemoryStorage reports whether Postgres and Redis are replaced by in-process stores.
func (c *Config) UsesMemoryStorage() bool {
	return c.StorageBackend == "memory"
}

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
