package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Budget    BudgetConfig
	Compress  CompressConfig
	Lifecycle LifecycleConfig
	Email     EmailConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the media bucket name.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MediaBucket     string
}

// BudgetConfig is the size budget policy per delivery channel.
//
// InternalSchedule is a comma-separated list of maxDurationSec:budgetMB steps
// (e.g. "30:2,60:5,180:15,600:50"); budgets must be non-decreasing in duration.
type BudgetConfig struct {
	MaxDurationSec   int
	EmailCapMB       int
	InternalCapMB    int
	InternalSchedule string
}

// CompressConfig holds external encoder settings.
type CompressConfig struct {
	FFmpegPath string
	TmpDir     string // empty = os.TempDir()
}

// LifecycleConfig holds message lifecycle policy.
type LifecycleConfig struct {
	// CascadeDeleteOnDownload deletes an internal message immediately after
	// a successful download (view-once-and-gone). Off leaves deletion as a
	// separate explicit action.
	CascadeDeleteOnDownload bool
	// CompressingTimeoutMin forces messages stuck in Compressing to Failed.
	CompressingTimeoutMin int
	SweepIntervalMin      int
}

// EmailConfig holds SMTP settings for the external delivery channel.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "120"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "vidblink"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MediaBucket:     getEnv("AWS_S3_MEDIA_BUCKET", "vidblink-media"),
		},
		Budget: BudgetConfig{
			MaxDurationSec:   getEnvInt("BUDGET_MAX_DURATION_SEC", 600),
			EmailCapMB:       getEnvInt("BUDGET_EMAIL_CAP_MB", 25),
			InternalCapMB:    getEnvInt("BUDGET_INTERNAL_CAP_MB", 50),
			InternalSchedule: getEnv("BUDGET_INTERNAL_SCHEDULE", "30:2,60:5,180:15,600:50"),
		},
		Compress: CompressConfig{
			FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
			TmpDir:     getEnv("COMPRESS_TMP_DIR", ""),
		},
		Lifecycle: LifecycleConfig{
			CascadeDeleteOnDownload: getEnvBool("LIFECYCLE_CASCADE_DELETE_ON_DOWNLOAD", true),
			CompressingTimeoutMin:   getEnvInt("LIFECYCLE_COMPRESSING_TIMEOUT_MIN", 30),
			SweepIntervalMin:        getEnvInt("LIFECYCLE_SWEEP_INTERVAL_MIN", 5),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "VidBlink"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}
