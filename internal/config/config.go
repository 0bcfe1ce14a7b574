package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	StageGuardTTL time.Duration
	RateLimit     int // API requests per user per minute

	// AWS Services
	AWSRegion      string
	AWSEndpointURL string // LocalStack override for SNS and SQS
	SESFromEmail   string
	SNSRegion      string

	// Resend fallback for email and carrier texts
	ResendAPIKey string
	EmailFrom    string

	// Chat webhook
	DiscordWebhookURL string
	DiscordRatePerSec float64
	SystemUserID      int64

	// Dispatcher
	SendTimeout         time.Duration
	DispatchConcurrency int
	DispatchBatchSize   int

	// Job triggers
	StageCron       string
	SendCron        string
	JobTimeout      time.Duration
	TriggerQueueURL string

	// Alert content
	AppBaseURL   string
	Timezone     string
	ScheduleLead time.Duration
	MeetingLead  time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "teamalerts",
		DBName:     "teamalerts",
		DBSSLMode:  "disable",
		DBMaxConns: 10,

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		StageGuardTTL: 10 * time.Minute,
		RateLimit:     120,

		AWSRegion:    "us-east-1",
		SESFromEmail: "alerts@teamalerts.local",

		DiscordRatePerSec: 1,

		SendTimeout:         15 * time.Second,
		DispatchConcurrency: 8,
		DispatchBatchSize:   500,

		JobTimeout: 5 * time.Minute,

		AppBaseURL:   "http://localhost:8000",
		Timezone:     "America/New_York",
		ScheduleLead: 15 * time.Minute,
		MeetingLead:  5 * time.Minute,
	}

	var err error

	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = envString("ENV", cfg.Env)

	// Database config
	cfg.DBHost = envString("DB_HOST", cfg.DBHost)
	if cfg.DBPort, err = envInt("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	cfg.DBUser = envString("DB_USER", cfg.DBUser)
	cfg.DBPassword = envString("DB_PASSWORD", cfg.DBPassword)
	cfg.DBName = envString("DB_NAME", cfg.DBName)
	cfg.DBSSLMode = envString("DB_SSLMODE", cfg.DBSSLMode)
	if cfg.DBMaxConns, err = envInt("DB_MAX_CONNS", cfg.DBMaxConns); err != nil {
		return nil, err
	}

	// Redis config
	cfg.RedisHost = envString("REDIS_HOST", cfg.RedisHost)
	if cfg.RedisPort, err = envInt("REDIS_PORT", cfg.RedisPort); err != nil {
		return nil, err
	}
	cfg.RedisPassword = envString("REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.RedisDB, err = envInt("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, err
	}
	if cfg.StageGuardTTL, err = envDuration("STAGE_GUARD_TTL", cfg.StageGuardTTL); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = envInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimit); err != nil {
		return nil, err
	}

	// AWS config
	cfg.AWSRegion = envString("AWS_REGION", cfg.AWSRegion)
	cfg.AWSEndpointURL = envString("AWS_ENDPOINT_URL", cfg.AWSEndpointURL)
	cfg.SESFromEmail = envString("SES_FROM_EMAIL", cfg.SESFromEmail)
	cfg.SNSRegion = envString("SNS_REGION", cfg.AWSRegion)

	cfg.ResendAPIKey = envString("RESEND_API_KEY", cfg.ResendAPIKey)
	cfg.EmailFrom = envString("EMAIL_FROM", cfg.SESFromEmail)

	// Chat config
	cfg.DiscordWebhookURL = envString("DISCORD_WEBHOOK_URL", cfg.DiscordWebhookURL)
	if v := os.Getenv("DISCORD_RATE_PER_SEC"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid DISCORD_RATE_PER_SEC: %w", err)
		}
		cfg.DiscordRatePerSec = r
	}
	if v := os.Getenv("SYSTEM_USER_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SYSTEM_USER_ID: %w", err)
		}
		cfg.SystemUserID = id
	}

	// Dispatcher config
	if cfg.SendTimeout, err = envDuration("SEND_TIMEOUT", cfg.SendTimeout); err != nil {
		return nil, err
	}
	if cfg.DispatchConcurrency, err = envInt("DISPATCH_CONCURRENCY", cfg.DispatchConcurrency); err != nil {
		return nil, err
	}
	if cfg.DispatchBatchSize, err = envInt("DISPATCH_BATCH_SIZE", cfg.DispatchBatchSize); err != nil {
		return nil, err
	}

	// Job triggers
	cfg.StageCron = envString("STAGE_CRON", cfg.StageCron)
	cfg.SendCron = envString("SEND_CRON", cfg.SendCron)
	if cfg.JobTimeout, err = envDuration("JOB_TIMEOUT", cfg.JobTimeout); err != nil {
		return nil, err
	}
	cfg.TriggerQueueURL = envString("TRIGGER_QUEUE_URL", cfg.TriggerQueueURL)

	// Alert content
	cfg.AppBaseURL = envString("APP_BASE_URL", cfg.AppBaseURL)
	cfg.Timezone = envString("TIMEZONE", cfg.Timezone)
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	if cfg.ScheduleLead, err = envDuration("SCHEDULE_LEAD", cfg.ScheduleLead); err != nil {
		return nil, err
	}
	if cfg.MeetingLead, err = envDuration("MEETING_LEAD", cfg.MeetingLead); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Location returns the configured time zone for alert bodies.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
