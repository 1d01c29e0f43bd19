package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

// Supported course stores and e-mail providers.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"

	EmailProviderSMTP    = "smtp"
	EmailProviderResend  = "resend"
	EmailProviderConsole = "console"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	CourseStore   string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	EmailProvider string
	FromEmail     string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	ResendAPIKey  string

	TelegramToken   string // Optional, enables the admin bot
	AdminTelegramID int64

	HTTPAddr    string
	LogLevel    string
	Environment string

	ReminderSendInterval    time.Duration
	ReminderSendTimeout     time.Duration
	ReminderHistoryCapacity int
	CronSpecCleanup         string
	CronSpecSweep           string // Re-runs the upcoming course sweep
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.CourseStore = strings.ToLower(getEnv("COURSE_STORE", StorePostgres))
	switch cfg.CourseStore {
	case StorePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreMongo:
		cfg.MongoURI = os.Getenv("MONGO_URI")
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is not set")
		}
		cfg.MongoDatabase = getEnv("MONGO_DATABASE", "training")
	default:
		return nil, fmt.Errorf("invalid COURSE_STORE %q", cfg.CourseStore)
	}

	cfg.EmailProvider = strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderConsole))
	cfg.FromEmail = getEnv("FROM_EMAIL", "noreply@localhost")
	switch cfg.EmailProvider {
	case EmailProviderSMTP:
		cfg.SMTPHost = os.Getenv("SMTP_HOST")
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is not set")
		}
		cfg.SMTPPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
		cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	case EmailProviderResend:
		cfg.ResendAPIKey = os.Getenv("RESEND_API_KEY")
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("RESEND_API_KEY is not set")
		}
	case EmailProviderConsole:
	default:
		return nil, fmt.Errorf("invalid EMAIL_PROVIDER %q", cfg.EmailProvider)
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken != "" {
		adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
		if adminIDStr == "" {
			return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
		}
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))

	cfg.ReminderSendInterval, err = time.ParseDuration(getEnv("REMINDER_SEND_INTERVAL", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_SEND_INTERVAL: %w", err)
	}
	cfg.ReminderSendTimeout, err = time.ParseDuration(getEnv("REMINDER_SEND_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_SEND_TIMEOUT: %w", err)
	}
	cfg.ReminderHistoryCapacity, err = strconv.Atoi(getEnv("REMINDER_HISTORY_CAPACITY", "200"))
	if err != nil || cfg.ReminderHistoryCapacity <= 0 {
		return nil, fmt.Errorf("invalid REMINDER_HISTORY_CAPACITY %q", os.Getenv("REMINDER_HISTORY_CAPACITY"))
	}

	cfg.CronSpecCleanup = getEnv("CRON_SPEC_CLEANUP", "0 * * * *") // Default: hourly
	cfg.CronSpecSweep = getEnv("CRON_SPEC_SWEEP", "30 3 * * *")    // Default: 03:30 daily

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
