package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port    int
	Host    string
	SiteURL string

	// Database (superuser connection, used for migrations and RLS context)
	DatabaseURL string

	// Auth
	JWTSecret         string
	JWTExpiry         int // seconds
	PasswordMinLength int
	EnableSignup      bool

	// Media store (S3-compatible)
	MediaBucket    string
	MediaEndpoint  string
	MediaRegion    string
	MediaAccessKey string
	MediaSecretKey string
	MediaPublicURL string
	MediaMaxSizeMB int

	// Profile cache
	RedisURL        string
	ProfileCacheTTL int // seconds
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnvInt("PORT", 3000),
		Host:              getEnv("HOST", "0.0.0.0"),
		SiteURL:           getEnv("SITE_URL", "http://localhost:3000"),
		DatabaseURL:       mustGetEnv("DATABASE_URL"),
		JWTSecret:         mustGetEnv("JWT_SECRET"),
		JWTExpiry:         getEnvInt("JWT_EXPIRY", 3600),
		PasswordMinLength: getEnvInt("PASSWORD_MIN_LENGTH", 6),
		EnableSignup:      getEnvBool("ENABLE_SIGNUP", true),
		MediaBucket:       getEnv("MEDIA_BUCKET", "media"),
		MediaEndpoint:     getEnv("MEDIA_S3_ENDPOINT", ""),
		MediaRegion:       getEnv("MEDIA_S3_REGION", "us-east-1"),
		MediaAccessKey:    getEnv("MEDIA_S3_ACCESS_KEY", ""),
		MediaSecretKey:    getEnv("MEDIA_S3_SECRET_KEY", ""),
		MediaPublicURL:    getEnv("MEDIA_PUBLIC_URL", ""),
		MediaMaxSizeMB:    getEnvInt("MEDIA_MAX_SIZE_MB", 25),
		RedisURL:          getEnv("REDIS_URL", ""),
		ProfileCacheTTL:   getEnvInt("PROFILE_CACHE_TTL_SECONDS", 300),
	}

	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	// Media credentials: both or neither
	if (cfg.MediaAccessKey != "" && cfg.MediaSecretKey == "") || (cfg.MediaAccessKey == "" && cfg.MediaSecretKey != "") {
		return nil, fmt.Errorf("MEDIA_S3_ACCESS_KEY and MEDIA_S3_SECRET_KEY must both be set or both be empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustGetEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1"
}
