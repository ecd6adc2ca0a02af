package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
	JWTTTL       time.Duration
	AdminEmails  []string

	ChatModel      string
	EmbeddingModel string
	GeminiTimeout  time.Duration
	GeminiRate     float64 // requests per second across all Gemini calls
	MaxRetries     int
	RetryDelay     time.Duration

	SearchCandidates int
	SearchTopK       int
	SearchMinScore   float64
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "knowledge_hub.db"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTTTL:       getEnvAsDuration("JWT_TTL", 7*24*time.Hour),
		AdminEmails:  getEnvAsList("ADMIN_EMAILS"),

		ChatModel:      getEnv("GEMINI_CHAT_MODEL", "gemini-2.5-flash"),
		EmbeddingModel: getEnv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
		GeminiTimeout:  getEnvAsDuration("GEMINI_TIMEOUT", 30*time.Second),
		GeminiRate:     getEnvAsFloat("GEMINI_RATE_PER_SECOND", 25), // 1500/min
		MaxRetries:     getEnvAsInt("GEMINI_MAX_RETRIES", 2),
		RetryDelay:     getEnvAsDuration("GEMINI_RETRY_DELAY", 2*time.Second),

		SearchCandidates: getEnvAsInt("SEARCH_CANDIDATES", 20),
		SearchTopK:       getEnvAsInt("SEARCH_TOP_K", 5),
		SearchMinScore:   getEnvAsFloat("SEARCH_MIN_SCORE", 0.75),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}
	return cfg, nil
}

// IsAdminEmail reports whether accounts registered with email get the admin role.
func (c *Config) IsAdminEmail(email string) bool {
	for _, e := range c.AdminEmails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
