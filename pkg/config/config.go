package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the rebalancer.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret         string
	AdminPasswordHash string
	TokenTTL          time.Duration

	// Logging
	LogLevel       string
	LogFormat      string // "json" or "pretty"
	LogFileEnabled bool
	LogDir         string

	// Markets and oracle
	MarketsFile     string
	OracleSource    string // "mock", "static" or "hermes"
	HermesURL       string
	OracleMaxAge    time.Duration
	OracleMaxConfBp uint64

	// Execution
	OrderStyle     string // "post_only" or "ioc"
	MaxSlippageBps uint64
	MinTradeQuote  uint64

	// Keeper
	KeeperEnabled  bool
	KeeperSchedule string

	// Mock feed
	MockFeedInterval time.Duration
	MockFeedStepBps  uint64

	// API
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/rebalancer.db"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		TokenTTL:          time.Duration(getEnvInt("TOKEN_TTL_MINUTES", 24*60)) * time.Minute,
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
		LogFileEnabled:    getEnvBool("LOG_FILE_ENABLED", false),
		LogDir:            getEnv("LOG_DIR", "./logs"),
		MarketsFile:       os.Getenv("MARKETS_FILE"),
		OracleSource:      strings.ToLower(getEnv("ORACLE_SOURCE", "mock")),
		HermesURL:         getEnv("HERMES_URL", "https://hermes.pyth.network"),
		OracleMaxAge:      time.Duration(getEnvInt("ORACLE_MAX_AGE_SECONDS", 60)) * time.Second,
		OracleMaxConfBp:   getEnvUint("ORACLE_MAX_CONF_BPS", 200),
		OrderStyle:        strings.ToLower(getEnv("ORDER_STYLE", "post_only")),
		MaxSlippageBps:    getEnvUint("MAX_SLIPPAGE_BPS", 100),
		MinTradeQuote:     getEnvUint("MIN_TRADE_QUOTE", 0),
		KeeperEnabled:     getEnvBool("KEEPER_ENABLED", true),
		KeeperSchedule:    getEnv("KEEPER_SCHEDULE", "@every 30s"),
		MockFeedInterval:  time.Duration(getEnvInt("MOCK_FEED_INTERVAL_MS", 1000)) * time.Millisecond,
		MockFeedStepBps:   getEnvUint("MOCK_FEED_STEP_BPS", 5),
		RateLimitPerSec:   getEnvFloat("RATE_LIMIT_PER_SEC", 20),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 40),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return def
}
