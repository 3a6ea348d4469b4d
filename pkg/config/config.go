package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime knob. All values come from environment
// variables; defaults cover local development.
type Config struct {
	HTTPPort int
	Debug    bool

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Mail     MailConfig
	Worker   WorkerConfig

	CORSOrigins      []string
	EngineConfigPath string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	UserName    string
	Password    string
	DBName      string
	SSLMode     string
	MaxIdleConn int
	MaxOpenConn int
	LogMode     bool
}

func (d DatabaseConfig) Validate() error {
	if d.Host == "" || d.Port == 0 || d.DBName == "" {
		return fmt.Errorf("database config incomplete: host, port and db name are required")
	}
	return nil
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.UserName, d.Password, d.DBName, sslMode)
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	WhitelistEmails []string
	WhitelistFloor  int
	SignupBonus     int
}

type StorageConfig struct {
	Backend       string // local or s3
	UploadDir     string
	ResultDir     string
	PublicBaseURL string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Secure    bool

	RetentionDays int
}

type MailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
}

// Configured reports whether a mail provider is set up.
func (m MailConfig) Configured() bool {
	return m.SMTPHost != "" && m.From != ""
}

type WorkerConfig struct {
	PopTimeout     time.Duration
	StaleThreshold time.Duration
	JanitorPeriod  time.Duration
}

// Load reads the configuration from the process environment and validates
// the variables that have no usable default.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_PORT", 8000)
	v.SetDefault("DEBUG", false)

	v.SetDefault("DB_HOST", "")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_IDLE_CONN", 10)
	v.SetDefault("DB_MAX_OPEN_CONN", 40)
	v.SetDefault("DB_LOG_MODE", false)

	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24)
	v.SetDefault("REFRESH_TOKEN_EXPIRE_HOURS", 24*30)
	v.SetDefault("WHITELIST_EMAILS", "")
	v.SetDefault("WHITELIST_CREDIT_FLOOR", 1000)
	v.SetDefault("SIGNUP_BONUS_CREDITS", 100)

	v.SetDefault("STORAGE_BACKEND", "local")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("RESULT_DIR", "./results")
	v.SetDefault("PUBLIC_BASE_URL", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_BUCKET", "formy")
	v.SetDefault("S3_SECURE", true)
	v.SetDefault("TASK_RETENTION_DAYS", 7)

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "")

	v.SetDefault("WORKER_POP_TIMEOUT_SECONDS", 5)
	v.SetDefault("STALE_TASK_THRESHOLD_SECONDS", 600)
	v.SetDefault("JANITOR_PERIOD_SECONDS", 60)

	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("ENGINE_CONFIG_PATH", "./engine_config.yml")

	cfg := &Config{
		HTTPPort: v.GetInt("HTTP_PORT"),
		Debug:    v.GetBool("DEBUG"),
		Database: DatabaseConfig{
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetInt("DB_PORT"),
			UserName:    v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			DBName:      v.GetString("DB_NAME"),
			SSLMode:     v.GetString("DB_SSL_MODE"),
			MaxIdleConn: v.GetInt("DB_MAX_IDLE_CONN"),
			MaxOpenConn: v.GetInt("DB_MAX_OPEN_CONN"),
			LogMode:     v.GetBool("DB_LOG_MODE"),
		},
		Redis: RedisConfig{
			URL: v.GetString("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret:       v.GetString("JWT_SECRET"),
			AccessTokenTTL:  time.Duration(v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES")) * time.Minute,
			RefreshTokenTTL: time.Duration(v.GetInt("REFRESH_TOKEN_EXPIRE_HOURS")) * time.Hour,
			WhitelistEmails: splitList(v.GetString("WHITELIST_EMAILS")),
			WhitelistFloor:  v.GetInt("WHITELIST_CREDIT_FLOOR"),
			SignupBonus:     v.GetInt("SIGNUP_BONUS_CREDITS"),
		},
		Storage: StorageConfig{
			Backend:       v.GetString("STORAGE_BACKEND"),
			UploadDir:     v.GetString("UPLOAD_DIR"),
			ResultDir:     v.GetString("RESULT_DIR"),
			PublicBaseURL: v.GetString("PUBLIC_BASE_URL"),
			S3Endpoint:    v.GetString("S3_ENDPOINT"),
			S3AccessKey:   v.GetString("S3_ACCESS_KEY"),
			S3SecretKey:   v.GetString("S3_SECRET_KEY"),
			S3Bucket:      v.GetString("S3_BUCKET"),
			S3Secure:      v.GetBool("S3_SECURE"),
			RetentionDays: v.GetInt("TASK_RETENTION_DAYS"),
		},
		Mail: MailConfig{
			SMTPHost: v.GetString("SMTP_HOST"),
			SMTPPort: v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("MAIL_FROM"),
		},
		Worker: WorkerConfig{
			PopTimeout:     time.Duration(v.GetInt("WORKER_POP_TIMEOUT_SECONDS")) * time.Second,
			StaleThreshold: time.Duration(v.GetInt("STALE_TASK_THRESHOLD_SECONDS")) * time.Second,
			JanitorPeriod:  time.Duration(v.GetInt("JANITOR_PERIOD_SECONDS")) * time.Second,
		},
		CORSOrigins:      splitList(v.GetString("CORS_ORIGINS")),
		EngineConfigPath: v.GetString("ENGINE_CONFIG_PATH"),
	}

	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
