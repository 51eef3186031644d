// file: internal/config/config.go
// version: 2.0.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Worker bounds accepted by a fingerprint generation run
const (
	MinWorkers = 1
	MaxWorkers = 16
)

// Config holds application configuration
type Config struct {
	MusicDir     string
	DatabasePath string
	DatabaseType string // "pebble" (default) or "sqlite"
	EnableSQLite bool   // Must be true to use SQLite (safety flag)

	// Fingerprinting
	FpcalcPath          string
	FingerprintTimeout  time.Duration
	FingerprintWorkers  int
	SimilarityThreshold float64

	SupportedExtensions []string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	// Server
	Host               string
	Port               string
	RateLimitPerMinute int
	Watch              bool
}

var AppConfig Config

// SetDefaults registers default values with viper
func SetDefaults() {
	viper.SetDefault("database_path", "dj-tagger.pebble")
	viper.SetDefault("database_type", "pebble")
	viper.SetDefault("enable_sqlite3_i_know_the_risks", false)
	viper.SetDefault("fpcalc_path", "fpcalc")
	viper.SetDefault("fingerprint_timeout", 60*time.Second)
	viper.SetDefault("fingerprint_workers", 4)
	viper.SetDefault("similarity_threshold", 0.0)
	viper.SetDefault("supported_extensions", []string{"mp3", "flac", "wav", "m4a", "aac", "ogg"})
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_max_size_mb", 50)
	viper.SetDefault("log_max_backups", 5)
	viper.SetDefault("log_max_age_days", 30)
	viper.SetDefault("log_compress", true)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("rate_limit_per_minute", 120)
	viper.SetDefault("watch", false)
}

// LoadEnvFile loads a .env file into the process environment if one exists.
// Existing environment variables are not overridden.
func LoadEnvFile(paths ...string) error {
	return godotenv.Load(paths...)
}

// InitConfig initializes the application configuration
func InitConfig() {
	SetDefaults()
	viper.SetEnvPrefix("DJTAGGER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	AppConfig = Config{
		MusicDir:            viper.GetString("music_dir"),
		DatabasePath:        viper.GetString("database_path"),
		DatabaseType:        viper.GetString("database_type"),
		EnableSQLite:        viper.GetBool("enable_sqlite3_i_know_the_risks"),
		FpcalcPath:          viper.GetString("fpcalc_path"),
		FingerprintTimeout:  viper.GetDuration("fingerprint_timeout"),
		FingerprintWorkers:  ClampWorkers(viper.GetInt("fingerprint_workers")),
		SimilarityThreshold: viper.GetFloat64("similarity_threshold"),
		SupportedExtensions: normalizeExtensions(viper.GetStringSlice("supported_extensions")),
		LogLevel:            viper.GetString("log_level"),
		LogFile:             viper.GetString("log_file"),
		LogMaxSizeMB:        viper.GetInt("log_max_size_mb"),
		LogMaxBackups:       viper.GetInt("log_max_backups"),
		LogMaxAgeDays:       viper.GetInt("log_max_age_days"),
		LogCompress:         viper.GetBool("log_compress"),
		Host:                viper.GetString("server.host"),
		Port:                viper.GetString("server.port"),
		RateLimitPerMinute:  viper.GetInt("rate_limit_per_minute"),
		Watch:               viper.GetBool("watch"),
	}

	// Normalize database type
	if AppConfig.DatabaseType == "sqlite3" {
		AppConfig.DatabaseType = "sqlite"
	}
	if AppConfig.DatabaseType == "" {
		AppConfig.DatabaseType = "pebble"
	}
	if AppConfig.FingerprintTimeout <= 0 {
		AppConfig.FingerprintTimeout = 60 * time.Second
	}
	if AppConfig.SimilarityThreshold < 0 || AppConfig.SimilarityThreshold > 1 {
		AppConfig.SimilarityThreshold = 0
	}
}

// ClampWorkers forces a configured default worker count into the accepted range.
// Explicit per-run requests are validated, not clamped.
func ClampWorkers(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// IsSupportedExtension reports whether ext (with or without the dot) is configured
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range c.SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// normalizeExtensions accepts both list values and a single comma separated
// string (as set through SUPPORTED_EXTENSIONS=mp3,flac).
func normalizeExtensions(in []string) []string {
	var out []string
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "."))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
