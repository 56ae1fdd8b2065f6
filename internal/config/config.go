package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// FLAG portal and browser sidecar
	PortalURL            string
	BrowserSidecarURL    string
	MaxBrowserSessions   int
	SessionIdleTimeout   time.Duration
	StepTimeout          time.Duration
	NavigationRetries    int
	MaxSystemRetries     int
	MaxInteractionRounds int
	MaxConcurrentFilings int
	FinishedRetention    time.Duration

	// Decision oracle
	LLMProvider        string
	OpenAIAPIKey       string
	OpenAIModel        string
	BedrockModelID     string
	GeminiAPIKey       string
	GeminiModel        string
	OracleTimeout      time.Duration
	OracleMaxAttempts  int
	OracleBaseDelay    time.Duration
	OracleMaxDelay     time.Duration
	OracleRatePerSec   float64
	OracleBurst        int
	OracleTemperature  float64
	OracleMaxTokens    int

	// Persistence
	DatabaseURL        string
	ResultStore        string
	FilingResultsTable string
	ArchiveBucket      string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	FilingQueueURL      string
	UseMemoryQueue      bool
	WorkerCount         int
	OutboxInterval      time.Duration
	OutboxMaxAttempts   int

	// Operator access and notifications
	OperatorJWTSecret string
	OperatorEmail     string
	EmailProvider     string
	EmailFromAddress  string
	EmailFromName     string
	SendGridAPIKey    string
	EmailReplyTo      string
	SESConfigSet      string

	// HTTP surface
	APIBaseURL         string
	CORSAllowedOrigins []string
	SubmitRatePerSec   float64
	SubmitBurst        int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PortalURL:            getEnv("FLAG_PORTAL_URL", "https://flag.dol.gov/"),
		BrowserSidecarURL:    getEnv("BROWSER_SIDECAR_URL", "http://localhost:3000"),
		MaxBrowserSessions:   getEnvAsInt("MAX_BROWSER_SESSIONS", 5),
		SessionIdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
		StepTimeout:          getEnvAsDuration("STEP_TIMEOUT", 60*time.Second),
		NavigationRetries:    getEnvAsInt("NAVIGATION_RETRIES", 2),
		MaxSystemRetries:     getEnvAsInt("MAX_SYSTEM_RETRIES", 3),
		MaxInteractionRounds: getEnvAsInt("MAX_INTERACTION_ROUNDS", 3),
		MaxConcurrentFilings: getEnvAsInt("MAX_CONCURRENT_FILINGS", 5),
		FinishedRetention:    getEnvAsDuration("FINISHED_FILING_RETENTION", time.Hour),

		LLMProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "openai"))),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o"),
		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OracleTimeout:     getEnvAsDuration("ORACLE_TIMEOUT", 30*time.Second),
		OracleMaxAttempts: getEnvAsInt("ORACLE_MAX_ATTEMPTS", 3),
		OracleBaseDelay:   getEnvAsDuration("ORACLE_BASE_DELAY", 4*time.Second),
		OracleMaxDelay:    getEnvAsDuration("ORACLE_MAX_DELAY", 10*time.Second),
		OracleRatePerSec:  getEnvAsFloat("ORACLE_RATE_PER_SEC", 2),
		OracleBurst:       getEnvAsInt("ORACLE_BURST", 4),
		OracleTemperature: getEnvAsFloat("ORACLE_TEMPERATURE", 0.1),
		OracleMaxTokens:   getEnvAsInt("ORACLE_MAX_TOKENS", 2000),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		ResultStore:        strings.ToLower(strings.TrimSpace(getEnv("RESULT_STORE", "auto"))),
		FilingResultsTable: getEnv("FILING_RESULTS_TABLE", "lca_filing_results"),
		ArchiveBucket:      getEnv("ARCHIVE_BUCKET", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		FilingQueueURL:      getEnv("FILING_QUEUE_URL", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:         getEnvAsInt("WORKER_COUNT", 2),
		OutboxInterval:      getEnvAsDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxMaxAttempts:   getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),

		OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),
		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		EmailFromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "LCA Filing"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		EmailReplyTo:      getEnv("EMAIL_REPLY_TO", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),

		APIBaseURL:         getEnv("API_BASE_URL", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		SubmitRatePerSec:   getEnvAsFloat("SUBMIT_RATE_PER_SEC", 1),
		SubmitBurst:        getEnvAsInt("SUBMIT_BURST", 5),
	}
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
