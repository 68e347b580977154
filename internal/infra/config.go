package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	StorageBackend  string // "minio" or "filesystem"
	StorageBasePath string
	StorageBaseURL  string
	UploadBucket    string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool
	MinioRegion    string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	QueueKey           string
	QueueDeadLetterKey string
	QueuePollTimeout   time.Duration
	QueueMaxAttempts   int

	AnalysisProvider  string
	EditingProvider   string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	QwenAPIKey        string
	QwenModel         string
	QwenBaseURL       string
	ProviderTimeout   time.Duration
	ProviderRetries   int
	ProvidersDisabled bool

	WebhookURL string
	UploadTTL  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", "minio")),
		StorageBasePath: getEnv("STORAGE_BASE_PATH", "./data/objects"),
		StorageBaseURL:  os.Getenv("STORAGE_BASE_URL"),
		UploadBucket:    getEnv("UPLOAD_BUCKET", "images"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    os.Getenv("MINIO_REGION"),

		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		QueueKey:           getEnv("QUEUE_KEY", "jobs:arrivals"),
		QueueDeadLetterKey: os.Getenv("QUEUE_DEAD_LETTER_KEY"),
		QueuePollTimeout:   time.Second * time.Duration(getEnvInt("QUEUE_POLL_TIMEOUT_SECONDS", 5)),
		QueueMaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 3),

		AnalysisProvider:  getEnv("ANALYSIS_PROVIDER", "gemini"),
		EditingProvider:   getEnv("EDITING_PROVIDER", "qwen"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		QwenAPIKey:        os.Getenv("QWEN_API_KEY"),
		QwenModel:         getEnv("QWEN_MODEL", "qwen-vl-max"),
		QwenBaseURL:       getEnv("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/api/v1"),
		ProviderTimeout:   time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		ProviderRetries:   getEnvInt("PROVIDER_RETRIES", 3),
		ProvidersDisabled: getEnvBool("PROVIDERS_DISABLED", false),

		WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		UploadTTL:  time.Second * time.Duration(getEnvInt("UPLOAD_TTL_SECONDS", 86400)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.QueueDeadLetterKey == "" {
		cfg.QueueDeadLetterKey = cfg.QueueKey + ":dead"
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.StorageBackend {
	case "minio":
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return nil, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when STORAGE_BACKEND=minio")
		}
	case "filesystem":
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
