package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database   DatabaseConfig
	Log        LogConfig
	Rules      RulesConfig
	Duplicates DuplicatesConfig
	Ledger     LedgerConfig
	Import     ImportConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// RulesConfig tunes the automation engine.
type RulesConfig struct {
	NoteDelimiter    string `mapstructure:"note_delimiter"`
	RecordProvenance bool   `mapstructure:"record_provenance"`
}

// DuplicatesConfig tunes the duplicate detector.
type DuplicatesConfig struct {
	WindowDays    int     `mapstructure:"window_days"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
}

// LedgerConfig tunes bulk balance work.
type LedgerConfig struct {
	BulkConcurrency int `mapstructure:"bulk_concurrency"`
}

// ImportConfig holds CSV import settings.
type ImportConfig struct {
	Timezone string
}

// Location resolves the import timezone, falling back to UTC.
func (c ImportConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "ledgerflow", "ledgerflow.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("rules.note_delimiter", " | ")
	v.SetDefault("rules.record_provenance", true)
	v.SetDefault("duplicates.window_days", 0)
	v.SetDefault("duplicates.min_similarity", 0.0)
	v.SetDefault("ledger.bulk_concurrency", 4)
	v.SetDefault("import.timezone", "Australia/Melbourne")
}

// Load reads configuration from file and env. Env var overrides use prefix LEDGERFLOW_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("LEDGERFLOW_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "ledgerflow"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("LEDGERFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values the services cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("config: database.path is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("config: log.format %q must be console or json", c.Log.Format)
	}
	if c.Rules.NoteDelimiter == "" {
		return errors.New("config: rules.note_delimiter must not be empty")
	}
	if c.Duplicates.WindowDays < 0 {
		return fmt.Errorf("config: duplicates.window_days %d must not be negative", c.Duplicates.WindowDays)
	}
	if c.Duplicates.MinSimilarity < 0 || c.Duplicates.MinSimilarity > 1 {
		return fmt.Errorf("config: duplicates.min_similarity %v must be within [0, 1]", c.Duplicates.MinSimilarity)
	}
	if c.Ledger.BulkConcurrency < 1 {
		return fmt.Errorf("config: ledger.bulk_concurrency %d must be at least 1", c.Ledger.BulkConcurrency)
	}
	if c.Import.Timezone != "" {
		if _, err := time.LoadLocation(c.Import.Timezone); err != nil {
			return fmt.Errorf("config: import.timezone: %w", err)
		}
	}
	return nil
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := os.Getenv("LEDGERFLOW_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "ledgerflow", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)
	v.Set("rules.note_delimiter", cfg.Rules.NoteDelimiter)
	v.Set("rules.record_provenance", cfg.Rules.RecordProvenance)
	v.Set("duplicates.window_days", cfg.Duplicates.WindowDays)
	v.Set("duplicates.min_similarity", cfg.Duplicates.MinSimilarity)
	v.Set("ledger.bulk_concurrency", cfg.Ledger.BulkConcurrency)
	v.Set("import.timezone", cfg.Import.Timezone)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
