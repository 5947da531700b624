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

	DatabaseURL string

	// WhatsApp Cloud API
	WhatsAppAPIURL      string
	WhatsAppAPIVersion  string
	WhatsAppVerifyToken string
	ProviderTimeout     time.Duration

	// Internal API auth
	APIJWTSecret string

	// Task queue
	QueueBackend     string // redis | sqs | memory
	QueueMaxAttempts int
	QueueRetryDelay  time.Duration
	WorkerCount      int
	ReceiveWaitSecs  int
	ReceiveBatchSize int

	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	RedisQueueKey  string
	QueueRetention int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	TaskQueueURL        string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		WhatsAppAPIURL:      getEnv("WHATSAPP_API_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:  getEnv("WHATSAPP_API_VERSION", "v19.0"),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		ProviderTimeout:     getEnvAsDuration("WHATSAPP_API_TIMEOUT", 10*time.Second),

		APIJWTSecret: getEnv("API_JWT_SECRET", ""),

		QueueBackend:     strings.ToLower(strings.TrimSpace(getEnv("QUEUE_BACKEND", "redis"))),
		QueueMaxAttempts: getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueRetryDelay:  getEnvAsDuration("QUEUE_RETRY_DELAY", 2*time.Second),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 2),
		ReceiveWaitSecs:  getEnvAsInt("QUEUE_RECEIVE_WAIT_SECONDS", 2),
		ReceiveBatchSize: getEnvAsInt("QUEUE_RECEIVE_BATCH_SIZE", 5),

		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		RedisQueueKey:  getEnv("REDIS_QUEUE_KEY", "zapdesk:tasks"),
		QueueRetention: getEnvAsInt("QUEUE_RETENTION", 1000),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		TaskQueueURL:        getEnv("TASK_QUEUE_URL", ""),
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
