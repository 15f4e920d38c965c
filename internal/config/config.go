package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// メール送信方式
const (
	MailTransportSMTP  = "smtp"
	MailTransportKafka = "kafka"
	MailTransportLog   = "log"
)

// MailConfig はメール送信の設定を保持する。
type MailConfig struct {
	Transport string
	From      string

	// SMTP
	Host     string
	Port     int
	Username string
	Password string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string
	DBConnectRetries int
	DBConnectBackoff time.Duration

	// Token
	JWTSecret  string
	SessionTTL time.Duration
	BcryptCost int

	// Verification / Reset
	VerificationTokenTTL      time.Duration
	OtpTTL                    time.Duration
	MaxVerificationAttempts   int
	VerificationAttemptWindow time.Duration

	// Mail
	Mail MailConfig

	// Rate Limit
	RateLimitGeneral         int // req/min/IP
	RateLimitSensitive       int // req/window/IP
	RateLimitSensitiveWindow time.Duration
	TrustProxy               bool

	// Worker
	AttemptRetention time.Duration
	CleanupInterval  time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// APP_ENVがproduction以外の場合、カレントディレクトリの.envを先に読み込む（既存の環境変数は上書きしない）。
// 全コマンド共通の必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to load .env file", slog.String("error", err.Error()))
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBConnectRetries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.DBConnectBackoff = getEnvDuration("DB_CONNECT_BACKOFF", 5*time.Second)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 30*24*time.Hour)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.VerificationTokenTTL = getEnvDuration("VERIFICATION_TOKEN_TTL", 24*time.Hour)
	cfg.OtpTTL = getEnvDuration("OTP_TTL", 10*time.Minute)
	cfg.MaxVerificationAttempts = getEnvInt("MAX_VERIFICATION_ATTEMPTS", 3)
	cfg.VerificationAttemptWindow = getEnvDuration("VERIFICATION_ATTEMPT_WINDOW", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSensitive = getEnvInt("RATE_LIMIT_SENSITIVE", 5)
	cfg.RateLimitSensitiveWindow = getEnvDuration("RATE_LIMIT_SENSITIVE_WINDOW", 15*time.Minute)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.AttemptRetention = getEnvDuration("ATTEMPT_RETENTION", 7*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	cfg.Mail = MailConfig{
		Transport:    strings.ToLower(getEnvString("MAIL_TRANSPORT", MailTransportSMTP)),
		From:         os.Getenv("EMAIL_FROM"),
		Host:         os.Getenv("EMAIL_HOST"),
		Port:         getEnvInt("EMAIL_PORT", 587),
		Username:     os.Getenv("EMAIL_USERNAME"),
		Password:     os.Getenv("EMAIL_PASSWORD"),
		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   os.Getenv("KAFKA_TOPIC"),
	}

	return cfg, nil
}

// ValidateAuthService は認証サービスの起動に必要な追加設定を検証する。
// 確認リンク用のBASE_URLと、選択されたメール送信方式の認証情報が必要。
func (c *Config) ValidateAuthService() error {
	var missing []string

	if c.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.Mail.From == "" {
		missing = append(missing, "EMAIL_FROM")
	}

	switch c.Mail.Transport {
	case MailTransportSMTP:
		if c.Mail.Host == "" {
			missing = append(missing, "EMAIL_HOST")
		}
		if c.Mail.Username == "" {
			missing = append(missing, "EMAIL_USERNAME")
		}
		if c.Mail.Password == "" {
			missing = append(missing, "EMAIL_PASSWORD")
		}
	case MailTransportKafka:
		if len(c.Mail.KafkaBrokers) == 0 {
			missing = append(missing, "KAFKA_BROKERS")
		}
		if c.Mail.KafkaTopic == "" {
			missing = append(missing, "KAFKA_TOPIC")
		}
	case MailTransportLog:
	default:
		return fmt.Errorf("unsupported MAIL_TRANSPORT: %q", c.Mail.Transport)
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return nil
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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
