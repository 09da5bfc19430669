package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	APIURL      string
	ViaCEPURL   string
	HTTPTimeout time.Duration

	PageSize       int
	MaxPages       int
	MaxConcurrency int
	RateLimitMs    int

	SessionBackend string
	SessionPath    string
	SessionProfile string
	SessionTTL     time.Duration
	RedisURL       string

	PostgresHost      string
	PostgresPort      string
	PostgresUser      string
	PostgresPassword  string
	PostgresDB        string
	PostgresSSLMode   string
	SnapshotsEnabled  bool
	DBConnectAttempts int

	CSVOutputDir string
	CatalogPath  string

	ServeAddr       string
	RefreshInterval time.Duration

	LogLevel string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		APIURL:      strings.TrimRight(getEnv("FUMAPIS_API_URL", "http://localhost:8000"), "/"),
		ViaCEPURL:   strings.TrimRight(getEnv("FUMAPIS_VIACEP_URL", "https://viacep.com.br"), "/"),
		HTTPTimeout: time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 15)) * time.Second,

		PageSize:       getEnvInt("PAGE_SIZE", 100),
		MaxPages:       getEnvInt("MAX_PAGES", 20),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 200),

		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", "file")),
		SessionPath:    getEnv("SESSION_PATH", defaultSessionPath()),
		SessionProfile: getEnv("SESSION_PROFILE", "default"),
		SessionTTL:     time.Duration(getEnvInt("SESSION_TTL_HOURS", 12)) * time.Hour,
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),

		PostgresHost:      getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:      getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:      getEnv("POSTGRES_USER", "fumapis"),
		PostgresPassword:  getEnv("POSTGRES_PASSWORD", "fumapis"),
		PostgresDB:        getEnv("POSTGRES_DB", "fumapis_dashboard"),
		PostgresSSLMode:   getEnv("POSTGRES_SSLMODE", "disable"),
		SnapshotsEnabled:  getEnvBool("SNAPSHOTS_ENABLED", false),
		DBConnectAttempts: getEnvInt("DB_CONNECT_ATTEMPTS", 5),

		CSVOutputDir: getEnv("CSV_OUTPUT_DIR", "./output"),
		CatalogPath:  getEnv("CATALOG_PATH", ""),

		ServeAddr:       getEnv("SERVE_ADDR", ":8090"),
		RefreshInterval: time.Duration(getEnvInt("REFRESH_INTERVAL_SECONDS", 60)) * time.Second,

		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".fumapis-session.json"
	}
	return filepath.Join(dir, "fumapis", "session.json")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
