package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisAddr   string
	RedisPrefix string

	ServerPort string
	ServerHost string

	// Document persistence scheduling
	Debounce    time.Duration // quiet-period save delay
	MaxDebounce time.Duration // forced save ceiling under continuous edits

	// Extension pipeline
	HookTimeout time.Duration

	// Replication
	AwarenessThrottle time.Duration

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "docsync"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix: getEnv("REDIS_PREFIX", "docsync"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		Debounce:          getEnvMillis("DEBOUNCE_MS", 2000),
		MaxDebounce:       getEnvMillis("MAX_DEBOUNCE_MS", 10000),
		HookTimeout:       getEnvMillis("HOOK_TIMEOUT_MS", 30000),
		AwarenessThrottle: getEnvMillis("AWARENESS_THROTTLE_MS", 200),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.Debounce <= 0 {
		return nil, fmt.Errorf("DEBOUNCE_MS must be positive")
	}
	if cfg.MaxDebounce < cfg.Debounce {
		return nil, fmt.Errorf("MAX_DEBOUNCE_MS must be at least DEBOUNCE_MS")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := fmt.Sscanf(value, "%d", new(int)); err == nil && intVal == 1 {
			var result int
			fmt.Sscanf(value, "%d", &result)
			return result
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
