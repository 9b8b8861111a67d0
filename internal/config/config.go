/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://planner.example.com)
	DBBackend   DatabaseBackend
	DBDSN       string

	// Working-day bounds applied to a fresh database, "15:04" wall clock
	// in UTC.
	DayStart string
	DayEnd   string

	// SeedFile optionally preloads day settings and activities at startup
	// when the database is empty.
	SeedFile string

	// JWTSigningKey enables authentication when set. An empty key leaves
	// the API open, matching single-user deployments.
	JWTSigningKey string

	// Redis cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event mirroring. Empty URL keeps events in-process only.
	NATSURL    string
	NATSToken  string
	InstanceID string

	// S3 Object Storage for schedule archives
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO
	ArchiveDir        string // Filesystem archive location when S3 is not configured

	// CalDAV sync
	CalDAVServerURL    string
	CalDAVCalendarID   string
	CalDAVAccessToken  string
	CalDAVRefreshToken string
	CalDAVTokenURL     string
	CalDAVClientID     string
	CalDAVClientSecret string
	SyncInterval       time.Duration // 0 disables the periodic sync loop

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"CALENDAR_ENV", "ENVIRONMENT"}, "development"),
		HTTPBind:    getEnvAny([]string{"CALENDAR_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"CALENDAR_HTTP_PORT", "PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"CALENDAR_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"CALENDAR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"CALENDAR_DB_DSN"}, "calendarv2.db"),

		DayStart: getEnvAny([]string{"CALENDAR_DAY_START"}, "08:00"),
		DayEnd:   getEnvAny([]string{"CALENDAR_DAY_END"}, "20:00"),

		SeedFile: getEnvAny([]string{"CALENDAR_SEED_FILE"}, ""),

		JWTSigningKey: getEnvAny([]string{"CALENDAR_JWT_SIGNING_KEY"}, ""),

		RedisAddr:     getEnvAny([]string{"CALENDAR_REDIS_ADDR", "REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"CALENDAR_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"CALENDAR_REDIS_DB", "REDIS_DB"}, 0),

		NATSURL:    getEnvAny([]string{"CALENDAR_NATS_URL", "NATS_URL"}, ""),
		NATSToken:  getEnvAny([]string{"CALENDAR_NATS_TOKEN", "NATS_TOKEN"}, ""),
		InstanceID: getEnvAny([]string{"CALENDAR_INSTANCE_ID"}, ""),

		S3AccessKeyID:     getEnvAny([]string{"CALENDAR_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"CALENDAR_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"CALENDAR_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"CALENDAR_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"CALENDAR_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"CALENDAR_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),
		ArchiveDir:        getEnvAny([]string{"CALENDAR_ARCHIVE_DIR"}, "./archives"),

		CalDAVServerURL:    getEnvAny([]string{"CALENDAR_CALDAV_SERVER_URL"}, ""),
		CalDAVCalendarID:   getEnvAny([]string{"CALENDAR_CALDAV_CALENDAR_ID"}, ""),
		CalDAVAccessToken:  getEnvAny([]string{"CALENDAR_CALDAV_ACCESS_TOKEN"}, ""),
		CalDAVRefreshToken: getEnvAny([]string{"CALENDAR_CALDAV_REFRESH_TOKEN"}, ""),
		CalDAVTokenURL:     getEnvAny([]string{"CALENDAR_CALDAV_TOKEN_URL"}, ""),
		CalDAVClientID:     getEnvAny([]string{"CALENDAR_CALDAV_CLIENT_ID"}, ""),
		CalDAVClientSecret: getEnvAny([]string{"CALENDAR_CALDAV_CLIENT_SECRET"}, ""),
		SyncInterval:       time.Duration(getEnvIntAny([]string{"CALENDAR_SYNC_INTERVAL_MINUTES"}, 0)) * time.Minute,

		TracingEnabled:    getEnvBoolAny([]string{"CALENDAR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"CALENDAR_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"CALENDAR_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CALENDAR_DB_DSN must be provided")
	}

	start, err := ParseDayClock(cfg.DayStart)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_DAY_START: %w", err)
	}
	end, err := ParseDayClock(cfg.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_DAY_END: %w", err)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("CALENDAR_DAY_END %q must be after CALENDAR_DAY_START %q", cfg.DayEnd, cfg.DayStart)
	}

	if cfg.TracingSampleRate < 0 || cfg.TracingSampleRate > 1 {
		return nil, fmt.Errorf("CALENDAR_TRACING_SAMPLE_RATE must be between 0 and 1")
	}

	if cfg.CalDAVServerURL != "" && cfg.CalDAVCalendarID == "" {
		return nil, fmt.Errorf("CALENDAR_CALDAV_CALENDAR_ID must be provided when CalDAV sync is configured")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.S3Bucket != "" {
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			return nil, fmt.Errorf("CALENDAR_S3_ACCESS_KEY_ID and CALENDAR_S3_SECRET_ACCESS_KEY are required when S3 archiving is enabled in production")
		}
	}

	return cfg, nil
}

// ParseDayClock parses a "15:04" wall-clock string into a reference time
// carrying only the hour and minute.
func ParseDayClock(value string) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t, nil
}

// DayBoundsFor anchors the configured day bounds to the UTC date of now.
func (c *Config) DayBoundsFor(now time.Time) (time.Time, time.Time, error) {
	start, err := ParseDayClock(c.DayStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseDayClock(c.DayEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	day := now.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, time.UTC)
	return dayStart, dayEnd, nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
