package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the offline daemon and library.
type Config struct {
	// Server
	ListenAddr string
	Env        string
	LogLevel   string

	// Storage
	DataDir           string
	StorageQuotaBytes int64

	// Remote sync
	RemoteBaseURL string
	RemoteTimeout time.Duration

	// Queue / scheduler
	MaxRetries    int
	SyncInterval  time.Duration
	QueueInterval time.Duration
	SyncTimeout   time.Duration
}

// Load reads configuration from the environment, with an optional .env file.
func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		ListenAddr:        getEnvOrDefault("LISTEN_ADDR", "localhost:8091"),
		Env:               getEnvOrDefault("ENV", "development"),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		DataDir:           getEnvOrDefault("DATA_DIR", "./data"),
		StorageQuotaBytes: getEnvAsInt64OrDefault("STORAGE_QUOTA_BYTES", 500*1024*1024),
		RemoteBaseURL:     getEnvOrDefault("REMOTE_BASE_URL", "http://localhost:8080/api/v1"),
		RemoteTimeout:     getEnvAsDurationOrDefault("REMOTE_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvAsIntOrDefault("SYNC_MAX_RETRIES", 3),
		SyncInterval:      getEnvAsDurationOrDefault("SYNC_INTERVAL", 15*time.Minute),
		QueueInterval:     getEnvAsDurationOrDefault("QUEUE_INTERVAL", time.Minute),
		SyncTimeout:       getEnvAsDurationOrDefault("SYNC_TIMEOUT", 5*time.Minute),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsInt64OrDefault(key string, defaultVal int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
