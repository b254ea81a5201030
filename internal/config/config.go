package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries all process configuration, loaded from the environment.
type Config struct {
	AppEnv  string
	AppName string
	AppPort string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int

	LogLevel string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	SMSEndpoint  string
	SMSAccessKey string
	SMSFrom      string

	PushEndpoint  string
	PushAccessKey string

	MaxLoginAttempts      int
	LockoutDuration       time.Duration
	SuspiciousThreshold   float64
	FraudDetectionEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		AppPort:       os.Getenv("APP_PORT"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBSSLMode:     os.Getenv("DB_SSL_MODE"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		SMTPHost:      os.Getenv("SMTP_HOST"),
		SMTPPort:      os.Getenv("SMTP_PORT"),
		SMTPUser:      os.Getenv("SMTP_USER"),
		SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:      os.Getenv("SMTP_FROM"),
		SMSEndpoint:   os.Getenv("SMS_ENDPOINT"),
		SMSAccessKey:  os.Getenv("SMS_ACCESS_KEY"),
		SMSFrom:       os.Getenv("SMS_FROM"),
		PushEndpoint:  os.Getenv("PUSH_ENDPOINT"),
		PushAccessKey: os.Getenv("PUSH_ACCESS_KEY"),
	}
	if cfg.AppName == "" {
		cfg.AppName = "pulse"
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8090"
	}
	if cfg.DBSSLMode == "" {
		cfg.DBSSLMode = "disable"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}

	var err error
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.RedisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		cfg.RedisPoolSize, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		cfg.RedisMinIdleConns, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MAX_RETRIES"); v != "" {
		cfg.RedisMaxRetries, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %w", err)
		}
	}

	cfg.MaxLoginAttempts = 5
	if v := os.Getenv("MAX_LOGIN_ATTEMPTS"); v != "" {
		cfg.MaxLoginAttempts, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_LOGIN_ATTEMPTS: %w", err)
		}
	}
	cfg.LockoutDuration = 900 * time.Second
	if v := os.Getenv("LOCKOUT_DURATION_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCKOUT_DURATION_SECONDS: %w", err)
		}
		cfg.LockoutDuration = time.Duration(secs) * time.Second
	}
	cfg.SuspiciousThreshold = 0.7
	if v := os.Getenv("SUSPICIOUS_ACTIVITY_THRESHOLD"); v != "" {
		cfg.SuspiciousThreshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SUSPICIOUS_ACTIVITY_THRESHOLD: %w", err)
		}
	}
	cfg.FraudDetectionEnabled = true
	if v := os.Getenv("FRAUD_DETECTION_ENABLED"); v != "" {
		cfg.FraudDetectionEnabled, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FRAUD_DETECTION_ENABLED: %w", err)
		}
	}

	if cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBUser == "" || cfg.DBName == "" || cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	return cfg, nil
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}
