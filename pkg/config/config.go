package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the straddle core.
type Config struct {
	Port string

	// Venue session (Noren REST + websocket)
	NorenAPIURL       string
	NorenWSURL        string
	NorenUserID       string
	NorenAccountID    string
	NorenSessionToken string
	NorenRateLimit    float64 // requests per second

	// Market data
	UseMockFeed       bool
	FeedSubscriptions []string // "EXCH|TOKEN" keys subscribed regardless of configs

	// Execution
	DryRun           bool
	ExecutionEnabled bool
	OrderPriceMode   string // "MKT" or "LMT"

	// RMS thresholds
	RatioThreshold       float64
	UnderlyingMoveExitPc float64
	SnapshotDir          string

	// Reference data
	InstrumentsPath string
	StrategiesPath  string

	// Loop cadence
	PositionSyncInterval  time.Duration
	RMSRefreshInterval    time.Duration
	StrikeResolveInterval time.Duration

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/straddle.db")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		NorenAPIURL:           strings.TrimRight(getEnv("NOREN_API_URL", "https://api.shoonya.com/NorenWClientTP"), "/"),
		NorenWSURL:            getEnv("NOREN_WS_URL", "wss://api.shoonya.com/NorenWSTP/"),
		NorenUserID:           os.Getenv("NOREN_USER_ID"),
		NorenAccountID:        getEnv("NOREN_ACCOUNT_ID", os.Getenv("NOREN_USER_ID")),
		NorenSessionToken:     os.Getenv("NOREN_SESSION_TOKEN"),
		NorenRateLimit:        getEnvFloat("NOREN_RATE_LIMIT", 8),
		UseMockFeed:           getEnv("USE_MOCK_FEED", "true") == "true",
		FeedSubscriptions:     splitAndTrim(getEnv("FEED_SUBSCRIPTIONS", "NSE|26000,BSE|1,NSE|26009")),
		DryRun:                getEnv("DRY_RUN", "true") == "true",
		ExecutionEnabled:      getEnv("ACTIVATE_STRADLE_EXECUTION", "false") == "true",
		OrderPriceMode:        strings.ToUpper(getEnv("ORDER_PRICE_MODE", "MKT")),
		RatioThreshold:        getEnvFloat("STRADLE_RATIO_THRESHOLD", 1.25),
		UnderlyingMoveExitPc:  getEnvFloat("UNDERLYING_MOVE_EXIT_PCT", 2),
		SnapshotDir:           getEnv("STRADLE_SNAPSHOT_DIR", "./data/AutoStradleTrade"),
		InstrumentsPath:       getEnv("INSTRUMENTS_PATH", "./data/instrumentinfo/instruments.json"),
		StrategiesPath:        getEnv("STRATEGIES_PATH", "strategies.yaml"),
		PositionSyncInterval:  getEnvMillis("POSITION_SYNC_INTERVAL_MS", 2000),
		RMSRefreshInterval:    getEnvMillis("RMS_REFRESH_INTERVAL_MS", 5000),
		StrikeResolveInterval: getEnvMillis("STRIKE_RESOLVE_INTERVAL_MS", 2000),
		DBPath:                dbPath,
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		Language:              getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
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

// getEnvMillis reads a millisecond count; non-positive values fall back to def.
func getEnvMillis(key string, def int) time.Duration {
	ms := getEnvInt(key, def)
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}
