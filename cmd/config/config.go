package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port               string
	Env                string
	DBDriver           string
	DBURL              string
	SecretKey          string
	TokenTTL           time.Duration
	RedisURL           string
	PresenceTTL        time.Duration
	PlatformFeePercent float64
	CORSOrigins        []string
	UploadDir          string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	StreamAPIKey    string
	StreamAPISecret string
	ExpoPushEnabled bool

	ReminderLead   time.Duration
	WorkerInterval time.Duration
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("TOKEN_TTL_HOURS", 72)
	v.SetDefault("PRESENCE_TTL_SECONDS", 60)
	v.SetDefault("PLATFORM_FEE_PERCENT", 10)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EXPO_PUSH_ENABLED", false)
	v.SetDefault("REMINDER_LEAD_MINUTES", 60)
	v.SetDefault("WORKER_INTERVAL_SECONDS", 60)

	cfg := &Config{
		Port:               v.GetString("SERVER_PORT"),
		Env:                normalizeEnv(v.GetString("APP_ENV")),
		DBDriver:           strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DBURL:              v.GetString("DB_URL"),
		SecretKey:          v.GetString("SECRET_KEY"),
		TokenTTL:           time.Duration(v.GetInt("TOKEN_TTL_HOURS")) * time.Hour,
		RedisURL:           v.GetString("REDIS_URL"),
		PresenceTTL:        time.Duration(v.GetInt("PRESENCE_TTL_SECONDS")) * time.Second,
		PlatformFeePercent: v.GetFloat64("PLATFORM_FEE_PERCENT"),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
		UploadDir:          v.GetString("UPLOAD_DIR"),
		SMTPHost:           v.GetString("SMTP_HOST"),
		SMTPPort:           v.GetInt("SMTP_PORT"),
		SMTPUser:           v.GetString("SMTP_USER"),
		SMTPPass:           v.GetString("SMTP_PASS"),
		StreamAPIKey:       v.GetString("STREAM_API_KEY"),
		StreamAPISecret:    v.GetString("STREAM_API_SECRET"),
		ExpoPushEnabled:    v.GetBool("EXPO_PUSH_ENABLED"),
		ReminderLead:       time.Duration(v.GetInt("REMINDER_LEAD_MINUTES")) * time.Minute,
		WorkerInterval:     time.Duration(v.GetInt("WORKER_INTERVAL_SECONDS")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	switch c.DBDriver {
	case "postgres":
		if c.DBURL == "" {
			return errors.New("DB_URL is required for the postgres driver")
		}
	case "sqlite":
		if c.DBURL == "" {
			c.DBURL = "agriconsult.db"
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100, got %v", c.PlatformFeePercent)
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL_HOURS must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPUser != ""
}

func (c *Config) StreamEnabled() bool {
	return c.StreamAPIKey != "" && c.StreamAPISecret != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeEnv(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dev", "develop", "development", "local":
		return "development"
	case "prod", "production":
		return "production"
	case "test", "testing":
		return "test"
	default:
		return strings.ToLower(strings.TrimSpace(value))
	}
}
