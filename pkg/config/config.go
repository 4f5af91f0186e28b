package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvFileVar names an explicit env file to load before reading the environment.
const EnvFileVar = "KELASYAR_ENV_FILE"

type Config struct {
	APIBaseURL      string
	WSURL           string
	Environment     string
	CacheDBPath     string
	DownloadDir     string
	MaxUploadSize   int64
	EditWindow      time.Duration
	Locale          string
	Token           string
	ReadConcurrency int
	RequestTimeout  time.Duration
	SandboxPort     string
	SandboxSecret   string
}

// Load reads configuration from the environment. Values from the env file
// (KELASYAR_ENV_FILE, else ./.env when present) never override variables that
// are already set.
func Load() *Config {
	loadEnvFile()

	return &Config{
		APIBaseURL:      getEnv("API_BASE_URL", "http://localhost:8080/api"),
		WSURL:           getEnv("WS_URL", ""),
		Environment:     getEnv("ENVIRONMENT", "development"),
		CacheDBPath:     getEnv("CACHE_DB_PATH", "./data/kelasyar.db"),
		DownloadDir:     getEnv("DOWNLOAD_DIR", "./downloads"),
		MaxUploadSize:   parseInt64(getEnv("MAX_UPLOAD_SIZE", "52428800"), 52428800), // 50MB default
		EditWindow:      parseDuration(getEnv("EDIT_WINDOW", "30m"), 30*time.Minute),
		Locale:          getEnv("LOCALE", "fr"),
		Token:           getEnv("KELASYAR_TOKEN", ""),
		ReadConcurrency: int(parseInt64(getEnv("READ_CONCURRENCY", "4"), 4)),
		RequestTimeout:  parseDuration(getEnv("REQUEST_TIMEOUT", "0s"), 0),
		SandboxPort:     getEnv("SANDBOX_PORT", "8080"),
		SandboxSecret:   getEnv("SANDBOX_SECRET", "sandbox-secret-change-me"),
	}
}

func loadEnvFile() {
	if path, ok := os.LookupEnv(EnvFileVar); ok && path != "" {
		_ = godotenv.Load(path)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string, fallback int64) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val <= 0 {
		return fallback
	}
	return val
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	val, err := time.ParseDuration(s)
	if err != nil || val < 0 {
		return fallback
	}
	return val
}
