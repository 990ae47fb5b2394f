package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string
	LogLevel            string
	SyncInterval        time.Duration
	FolderCacheTTL      time.Duration
	MessageCacheTTL     time.Duration
	IMAPMaxWorkers      int
	WSMaxPerUser        int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILSYNC_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	syncInterval, err := getDurationOrDefault("MAILSYNC_SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	folderCacheTTL, err := getDurationOrDefault("MAILSYNC_FOLDER_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, err
	}
	messageCacheTTL, err := getDurationOrDefault("MAILSYNC_MESSAGE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	maxWorkers, err := getIntOrDefault("MAILSYNC_IMAP_MAX_WORKERS", 3)
	if err != nil {
		return nil, err
	}
	wsMaxPerUser, err := getIntOrDefault("MAILSYNC_WS_MAX_PER_USER", 10)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILSYNC_ENCRYPTION_KEY_BASE64"),
		DBHost:              getEnvOrDefault("MAILSYNC_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILSYNC_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILSYNC_DB_USER", "mailsync"),
		DBPassword:          os.Getenv("MAILSYNC_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILSYNC_DB_NAME", "mailsync"),
		DBSSLMode:           getEnvOrDefault("MAILSYNC_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		LogLevel:            getEnvOrDefault("MAILSYNC_LOG_LEVEL", "info"),
		SyncInterval:        syncInterval,
		FolderCacheTTL:      folderCacheTTL,
		MessageCacheTTL:     messageCacheTTL,
		IMAPMaxWorkers:      maxWorkers,
		WSMaxPerUser:        wsMaxPerUser,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILSYNC_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILSYNC_DB_PASSWORD is required")
	}

	if c.SyncInterval < time.Minute {
		return fmt.Errorf("MAILSYNC_SYNC_INTERVAL must be at least 1m, got %s", c.SyncInterval)
	}

	if c.IMAPMaxWorkers <= 0 {
		return fmt.Errorf("MAILSYNC_IMAP_MAX_WORKERS must be positive, got %d", c.IMAPMaxWorkers)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
