package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Signer
	SignerURL     string
	SignerTimeout time.Duration

	// Publish
	PublishGraceUnit     time.Duration
	PublishMaxConcurrent int
	UploadTimeout        time.Duration
	UploadMaxSize        int64
	DownloadTimeout      time.Duration
	DownloadMaxSize      int64
	MediaDir             string
	HostingServersFile   string

	// Upload sessions
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// S3
	S3Region        string
	S3BaseEndpoint  string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string

	// Rate Limit
	RateLimitUpload int

	// Feed
	FeedPageSize int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SignerURL = os.Getenv("SIGNER_URL")
	if cfg.SignerURL == "" {
		missing = append(missing, "SIGNER_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SignerTimeout = getEnvDuration("SIGNER_TIMEOUT", 10*time.Second)
	cfg.PublishGraceUnit = getEnvDuration("PUBLISH_GRACE_UNIT", time.Second)
	cfg.PublishMaxConcurrent = getEnvInt("PUBLISH_MAX_CONCURRENT", 4)
	cfg.UploadTimeout = getEnvDuration("UPLOAD_TIMEOUT", 60*time.Second)
	cfg.UploadMaxSize = getEnvInt64("UPLOAD_MAX_SIZE", 104857600)
	cfg.DownloadTimeout = getEnvDuration("DOWNLOAD_TIMEOUT", 30*time.Second)
	cfg.DownloadMaxSize = getEnvInt64("DOWNLOAD_MAX_SIZE", 104857600)
	cfg.MediaDir = getEnvString("MEDIA_DIR", os.TempDir())
	cfg.HostingServersFile = getEnvString("HOSTING_SERVERS_FILE", "")
	cfg.SessionTTL = getEnvDuration("UPLOAD_SESSION_TTL", time.Hour)
	cfg.SweepInterval = getEnvDuration("UPLOAD_SWEEP_INTERVAL", 5*time.Minute)
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3BaseEndpoint = getEnvString("S3_BASE_ENDPOINT", "")
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")
	cfg.S3PublicBaseURL = getEnvString("S3_PUBLIC_BASE_URL", "")
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 10)
	cfg.FeedPageSize = getEnvInt("FEED_PAGE_SIZE", 100)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// S3Enabled はS3アップロード先の設定が揃っているかを返す。
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3PublicBaseURL != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
