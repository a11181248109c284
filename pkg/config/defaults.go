// Package config provides centralized default values for the presence engine
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Presence Store (Redis-protocol)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	StoreOpTimeout time.Duration

	// Presence Window
	PresenceTimeout time.Duration
	SweepInterval   time.Duration

	// Peak counter windows (window-aligned expiry)
	PeakDailyTTL   time.Duration
	PeakWeeklyTTL  time.Duration
	PeakMonthlyTTL time.Duration

	// Durable event store
	DBDriver                 string
	DBPath                   string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int
	SlowQueryThreshold       time.Duration

	// Realtime channel
	SubscriberBufferSize     int
	WSReadLimitBytes         int
	WSPingIntervalSeconds    int
	MaxSubscribersPerChannel int

	// Auth
	JWTSecret string

	// Analytics
	HourlyTrendCapBuckets int
	TopLandingPagesLimit  int
	TopCrossDivisionEdges int
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	// Presence Store
	RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	RedisPassword = getEnvString("REDIS_PASSWORD", "")
	RedisDB = getEnvInt("REDIS_DB", 0)
	StoreOpTimeout = getEnvDuration("STORE_OP_TIMEOUT", 250*time.Millisecond)

	// Presence Window
	PresenceTimeout = time.Duration(getEnvInt("PRESENCE_TIMEOUT_SECONDS", 300)) * time.Second
	SweepInterval = getEnvDuration("SWEEP_INTERVAL", PresenceTimeout/2)

	// Peak counter windows
	PeakDailyTTL = time.Duration(getEnvInt("PEAK_DAILY_TTL_HOURS", 24)) * time.Hour
	PeakWeeklyTTL = time.Duration(getEnvInt("PEAK_WEEKLY_TTL_DAYS", 7)) * 24 * time.Hour
	PeakMonthlyTTL = time.Duration(getEnvInt("PEAK_MONTHLY_TTL_DAYS", 30)) * 24 * time.Hour

	// Durable event store
	DBDriver = getEnvString("DB_DRIVER", "sqlite3")
	DBPath = getEnvString("DB_PATH", "citinfos.db")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 500*time.Millisecond)

	// Realtime channel
	SubscriberBufferSize = getEnvInt("SUBSCRIBER_BUFFER_SIZE", 16)
	WSReadLimitBytes = getEnvInt("WS_READ_LIMIT_BYTES", 1024)
	WSPingIntervalSeconds = getEnvInt("WS_PING_INTERVAL_SECONDS", 30)
	MaxSubscribersPerChannel = getEnvInt("MAX_SUBSCRIBERS_PER_CHANNEL", 1000)

	// Auth
	JWTSecret = getEnvString("JWT_SECRET", "")

	// Analytics
	HourlyTrendCapBuckets = getEnvInt("HOURLY_TREND_CAP_BUCKETS", 168)
	TopLandingPagesLimit = getEnvInt("TOP_LANDING_PAGES_LIMIT", 10)
	TopCrossDivisionEdges = getEnvInt("TOP_CROSS_DIVISION_EDGES", 10)
}
