package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	JWTSecret   string

	// Fallback provider service credential, used when a user has no
	// connected upstream account.
	FallbackAPIKey  string
	FallbackBaseURL string
	FallbackModel   string

	// Seconds to wait for the provider to start responding.
	ProviderTimeoutSecs int

	// Advisor requests per minute, per user.
	RateLimitPerMinute int
	RateLimitBurst     int
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		DatabaseURL:         getEnv("DATABASE_URL", "omfinance_advisor.db"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		FallbackAPIKey:      getEnv("FALLBACK_PROVIDER_API_KEY", ""),
		FallbackBaseURL:     getEnv("FALLBACK_PROVIDER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
		FallbackModel:       getEnv("FALLBACK_PROVIDER_MODEL", "gemini-1.5-flash-latest"),
		ProviderTimeoutSecs: getEnvAsInt("PROVIDER_TIMEOUT_SECS", 30),
		RateLimitPerMinute:  getEnvAsInt("RATE_LIMIT_PER_MINUTE", 10),
		RateLimitBurst:      getEnvAsInt("RATE_LIMIT_BURST", 3),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
