package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Telegram  TelegramConfig
	Postgres  PostgresConfig
	S3        S3Config
	Server    ServerConfig
	Download  DownloadConfig
	Selection SelectionConfig
}

type TelegramConfig struct {
	Token       string
	AdminChatID int64
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Timeout  time.Duration
}

// S3Config configures the optional artifact archive. Archiving is enabled
// only when BucketName is set.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	EndpointURL     string
}

func (c *S3Config) Enabled() bool {
	return c.BucketName != ""
}

type ServerConfig struct {
	Host string
	Port string
}

type DownloadConfig struct {
	MaxConcurrentDownloads int
	MaxQueueSize           int
	MaxTasksPerUser        int
	TaskTimeout            time.Duration
	MaxOutputSize          int64
	TempDir                string
	OrphanMaxAge           time.Duration
}

type SelectionConfig struct {
	TTL        time.Duration
	MaxEntries int
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{}

	// Telegram configuration
	cfg.Telegram.Token = getEnvRequired("TELEGRAM_TOKEN")
	adminChatID, err := strconv.ParseInt(getEnvRequired("ADMIN_CHAT_ID"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_CHAT_ID: %w", err)
	}
	cfg.Telegram.AdminChatID = adminChatID

	// PostgreSQL configuration (authorization store)
	cfg.Postgres.Host = getEnv("POSTGRES_HOST", "localhost")
	cfg.Postgres.Port = getEnvInt("POSTGRES_PORT", 5432)
	cfg.Postgres.User = getEnvRequired("POSTGRES_USER")
	cfg.Postgres.Password = getEnvRequired("POSTGRES_PASSWORD")
	cfg.Postgres.Database = getEnv("POSTGRES_DATABASE", "vgrab")
	cfg.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")
	pgTimeout, err := time.ParseDuration(getEnv("POSTGRES_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid POSTGRES_TIMEOUT: %w", err)
	}
	cfg.Postgres.Timeout = pgTimeout

	// S3 archive configuration (optional)
	cfg.S3.BucketName = getEnv("S3_BUCKET_NAME", "")
	if cfg.S3.Enabled() {
		cfg.S3.Region = getEnv("AWS_REGION", "us-east-1")
		cfg.S3.EndpointURL = getEnv("AWS_ENDPOINT_URL", "") // Optional for LocalStack
		cfg.S3.AccessKeyID = getEnvRequired("AWS_ACCESS_KEY_ID")
		cfg.S3.SecretAccessKey = getEnvRequired("AWS_SECRET_ACCESS_KEY")
	}

	// Ops server configuration
	cfg.Server.Port = getEnv("SERVER_PORT", "8080")
	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")

	// Download configuration
	cfg.Download.MaxConcurrentDownloads = getEnvInt("MAX_CONCURRENT_DOWNLOADS", 2)
	cfg.Download.MaxQueueSize = getEnvInt("MAX_QUEUE_SIZE", 20)
	cfg.Download.MaxTasksPerUser = getEnvInt("MAX_TASKS_PER_USER", 2)
	taskTimeout, err := time.ParseDuration(getEnv("TASK_TIMEOUT", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid TASK_TIMEOUT: %w", err)
	}
	cfg.Download.TaskTimeout = taskTimeout
	// Bot API document uploads cap at 50MB
	cfg.Download.MaxOutputSize = getEnvInt64("MAX_OUTPUT_SIZE", 50*1024*1024)
	cfg.Download.TempDir = getEnv("TEMP_DIR", os.TempDir())
	orphanMaxAge, err := time.ParseDuration(getEnv("ORPHAN_MAX_AGE", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid ORPHAN_MAX_AGE: %w", err)
	}
	cfg.Download.OrphanMaxAge = orphanMaxAge

	// Selection store configuration
	selectionTTL, err := time.ParseDuration(getEnv("SELECTION_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SELECTION_TTL: %w", err)
	}
	cfg.Selection.TTL = selectionTTL
	cfg.Selection.MaxEntries = getEnvInt("SELECTION_MAX_ENTRIES", 1000)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Download.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("MAX_CONCURRENT_DOWNLOADS must be >= 1")
	}
	if c.Download.MaxQueueSize < 1 {
		return fmt.Errorf("MAX_QUEUE_SIZE must be >= 1")
	}
	if c.Download.MaxTasksPerUser < 1 {
		return fmt.Errorf("MAX_TASKS_PER_USER must be >= 1")
	}
	if c.Download.MaxOutputSize < 1 {
		return fmt.Errorf("MAX_OUTPUT_SIZE must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
