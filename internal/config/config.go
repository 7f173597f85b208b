package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// ConfigFileEnv names the optional config file read before the environment.
const ConfigFileEnv = "FINANZAS_CONFIG"

var validBackends = []string{"memory", "postgres", "sqlite"}

type Config struct {
	// HTTP Server
	Port           string
	RequestTimeout time.Duration
	RateLimit      int
	TrustedProxies []string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// Reports
	ReportCacheTTL  time.Duration
	ReportCacheSize int
	ExportDir       string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleOAuthClientFile string
	GoogleOAuthTokenFile  string
	GoogleOAuthClientJSON string
	GoogleOAuthTokenJSON  string

	// Worker
	MonthlyExportSchedule string
	MonthlyExportFormat   string
}

// Load reads configuration from the process environment.
func Load() *Config {
	return LoadFrom(viper.New())
}

// LoadFrom reads configuration through v, so callers can bind command line
// flags before loading. Environment variables use the bare upper-case key
// (PORT, DATA_BACKEND, ...).
func LoadFrom(v *viper.Viper) *Config {
	setDefaults(v)
	v.AutomaticEnv()

	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			slog.Warn("Failed to read config file", "file", file, "error", err)
		}
	}

	return &Config{
		Port:           v.GetString("port"),
		RequestTimeout: getDuration(v, "request_timeout", 7*time.Second),
		RateLimit:      getInt(v, "rate_limit_per_minute", 120),
		TrustedProxies: splitList(v.GetString("trusted_proxies")),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		DataBackend:  v.GetString("data_backend"),
		SQLiteDBPath: v.GetString("sqlite_db_path"),
		DatabaseURL:  v.GetString("database_url"),

		ReportCacheTTL:  getDuration(v, "report_cache_ttl", 2*time.Minute),
		ReportCacheSize: getInt(v, "report_cache_size", 256),
		ExportDir:       v.GetString("export_dir"),

		AMQPURL:      v.GetString("amqp_url"),
		AMQPExchange: v.GetString("amqp_exchange"),
		AMQPQueue:    v.GetString("amqp_queue"),

		GoogleSpreadsheetID:   v.GetString("google_spreadsheet_id"),
		GoogleSheetName:       v.GetString("google_sheet_name"),
		GoogleOAuthClientFile: v.GetString("google_oauth_client_file"),
		GoogleOAuthTokenFile:  v.GetString("google_oauth_token_file"),
		GoogleOAuthClientJSON: v.GetString("google_oauth_client_json"),
		GoogleOAuthTokenJSON:  v.GetString("google_oauth_token_json"),

		MonthlyExportSchedule: v.GetString("monthly_export_schedule"),
		MonthlyExportFormat:   v.GetString("monthly_export_format"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8081")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("data_backend", "sqlite")
	v.SetDefault("sqlite_db_path", "./data/finanzas.db")
	v.SetDefault("database_url", "")
	v.SetDefault("export_dir", "./data/exports")
	v.SetDefault("amqp_url", "")
	v.SetDefault("amqp_exchange", "finanzas")
	v.SetDefault("amqp_queue", "report_exports")
	v.SetDefault("google_spreadsheet_id", "")
	v.SetDefault("google_sheet_name", "Reports")
	v.SetDefault("google_oauth_client_file", "")
	v.SetDefault("google_oauth_token_file", "")
	v.SetDefault("google_oauth_client_json", "")
	v.SetDefault("google_oauth_token_json", "")
	v.SetDefault("trusted_proxies", "")
	v.SetDefault("monthly_export_schedule", "0 9 1 * *")
	v.SetDefault("monthly_export_format", "sheets")
}

// SheetsEnabled reports whether Google Sheets publishing is configured.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SheetsEnabled() {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		hasClientFile := c.GoogleOAuthClientFile != ""
		hasClientJSON := c.GoogleOAuthClientJSON != ""
		if !hasClientFile && !hasClientJSON {
			errors = append(errors, "either GOOGLE_OAUTH_CLIENT_FILE or GOOGLE_OAUTH_CLIENT_JSON must be provided for sheets export")
		}
		hasTokenFile := c.GoogleOAuthTokenFile != ""
		hasTokenJSON := c.GoogleOAuthTokenJSON != ""
		if !hasTokenFile && !hasTokenJSON {
			errors = append(errors, "either GOOGLE_OAUTH_TOKEN_FILE or GOOGLE_OAUTH_TOKEN_JSON must be provided for sheets export")
		}
		if hasClientFile {
			if _, err := os.Stat(c.GoogleOAuthClientFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth client file does not exist: %s", c.GoogleOAuthClientFile))
			}
		}
		if hasTokenFile {
			if _, err := os.Stat(c.GoogleOAuthTokenFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google OAuth token file does not exist: %s", c.GoogleOAuthTokenFile))
			}
		}
	}

	if c.ReportCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid report cache size %d: must be at least 1", c.ReportCacheSize))
	}
	if c.ReportCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid report cache ttl %v: must be at least 1 second", c.ReportCacheTTL))
	} else if c.ReportCacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid report cache ttl %v: must be at most 24 hours", c.ReportCacheTTL))
	}
	if c.RateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimit))
	}

	if c.MonthlyExportSchedule != "" {
		if _, err := cron.ParseStandard(c.MonthlyExportSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("invalid monthly export schedule '%s': %v", c.MonthlyExportSchedule, err))
		}
	}
	switch c.MonthlyExportFormat {
	case "sheets", "excel", "pdf", "csv":
	default:
		errors = append(errors, fmt.Sprintf("invalid monthly export format '%s': must be one of [sheets excel pdf csv]", c.MonthlyExportFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// getInt returns def when the key is unset or not a number.
func getInt(v *viper.Viper, key string, def int) int {
	if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
		if i, err := strconv.Atoi(raw); err == nil {
			return i
		}
	}
	return def
}

// getDuration returns def when the key is unset or not a Go duration.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if raw := strings.TrimSpace(v.GetString(key)); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return def
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
