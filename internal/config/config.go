package config

import (
	"errors"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	AllowedOrigins []string
	FrontendURL    string
	TrustProxy     bool

	DatabaseURL          string
	DBMaxOpenConns       int
	DBMaxIdleConns       int
	DBConnMaxLifetimeMin int

	RedisEnabled  bool
	RedisURL      string
	RedisPassword string

	JWTSecret       string
	RememberTTL     time.Duration // 0 means remembered tokens never expire
	TempLoginTTL    time.Duration
	TokenCookieName string

	FlowTTL       time.Duration
	QRTTL         time.Duration
	SweepInterval time.Duration

	RPName string

	AdminUsername string
	AdminPassword string
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

func LoadConfig() (*Config, error) {
	frontendURL := GetEnv("FRONTEND_URL", "http://localhost:8080")
	allowedOrigins := []string{frontendURL, "http://localhost:5173"}
	for _, origin := range strings.Split(GetEnv("ALLOWED_ORIGINS", ""), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			allowedOrigins = append(allowedOrigins, trimmed)
		}
	}

	// Append simple_protocol for PgBouncer compatibility (pgx driver)
	dbURL := GetEnv("DATABASE_URL", "")
	if dbURL != "" {
		if u, err := url.Parse(dbURL); err == nil {
			q := u.Query()
			if q.Get("default_query_exec_mode") == "" {
				q.Set("default_query_exec_mode", "simple_protocol")
				u.RawQuery = q.Encode()
				dbURL = u.String()
			}
		}
	}

	jwtSecret := GetEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	rememberDays := GetEnvAsInt("JWT_EXPIRES_DAYS", 7)
	if rememberDays < 0 {
		rememberDays = 0
	}
	tempMinutes := GetEnvAsInt("TEMP_LOGIN_TTL_MINUTES", 10)
	if tempMinutes < 1 {
		tempMinutes = 1
	}

	return &Config{
		Port:        GetEnv("PORT", "8080"),
		Environment: GetEnv("ENVIRONMENT", "development"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),

		AllowedOrigins: allowedOrigins,
		FrontendURL:    frontendURL,
		TrustProxy:     GetEnvAsBool("TRUST_PROXY", true),

		DatabaseURL:          dbURL,
		DBMaxOpenConns:       GetEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:       GetEnvAsInt("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifetimeMin: GetEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 5),

		RedisEnabled:  GetEnvAsBool("REDIS_ENABLED", false),
		RedisURL:      GetEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: GetEnv("REDIS_PASSWORD", ""),

		JWTSecret:       jwtSecret,
		RememberTTL:     time.Duration(rememberDays) * 24 * time.Hour,
		TempLoginTTL:    time.Duration(tempMinutes) * time.Minute,
		TokenCookieName: GetEnv("TOKEN_COOKIE_NAME", "token"),

		FlowTTL:       time.Duration(GetEnvAsInt("FLOW_TTL_SECONDS", 300)) * time.Second,
		QRTTL:         time.Duration(GetEnvAsInt("QR_TTL_SECONDS", 120)) * time.Second,
		SweepInterval: time.Duration(GetEnvAsInt("FLOW_SWEEP_SECONDS", 60)) * time.Second,

		RPName: GetEnv("RP_NAME", "MyDrop"),

		AdminUsername: GetEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: GetEnv("ADMIN_PASSWORD", "admin"),
	}, nil
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s: %s, using default: %v", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
