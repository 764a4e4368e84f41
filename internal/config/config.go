package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for PillTrail
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Adherence   AdherenceConfig   `mapstructure:"adherence"`
	Refill      RefillConfig      `mapstructure:"refill"`
	Interaction InteractionConfig `mapstructure:"interaction"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Security    SecurityConfig    `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
	InMemory   bool   `mapstructure:"in_memory"`
}

// AdherenceConfig holds adherence ledger settings
type AdherenceConfig struct {
	StreakWindowDays  int     `mapstructure:"streak_window_days"`
	QualifyingPercent float64 `mapstructure:"qualifying_percent"`
}

// RefillConfig holds refill prediction settings
type RefillConfig struct {
	HistoryWindowDays  int `mapstructure:"history_window_days"`
	MinHistoryDays     int `mapstructure:"min_history_days"`
	SafetyBufferDays   int `mapstructure:"safety_buffer_days"`
	CriticalDays       int `mapstructure:"critical_days"`
	WarningDays        int `mapstructure:"warning_days"`
	HighConfidenceDays int `mapstructure:"high_confidence_days"`
}

// InteractionConfig holds drug-interaction check settings
type InteractionConfig struct {
	LookupBaseURL   string  `mapstructure:"lookup_base_url"`
	LookupTimeout   int     `mapstructure:"lookup_timeout"`
	LookupRateLimit float64 `mapstructure:"lookup_rate_limit"`
	BreakerFailures uint32  `mapstructure:"breaker_failures"`
	BreakerCooldown int     `mapstructure:"breaker_cooldown"`
}

// SchedulerConfig holds background job settings
type SchedulerConfig struct {
	DailyInitSpec       string `mapstructure:"daily_init_spec"`
	RefillRecomputeSpec string `mapstructure:"refill_recompute_spec"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	AdminPassword string   `mapstructure:"admin_password"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.Set("storage.sqlite_path", filepath.Join(dataDir, "pilltrail.db"))
	v.Set("storage.badger_path", filepath.Join(dataDir, "ledger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "pilltrail.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (PILLTRAIL_SERVER_PORT, PILLTRAIL_SECURITY_JWT_SECRET, etc.)
	v.SetEnvPrefix("PILLTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	// Adherence defaults
	v.SetDefault("adherence.streak_window_days", 30)
	v.SetDefault("adherence.qualifying_percent", 80.0)

	// Refill defaults
	v.SetDefault("refill.history_window_days", 30)
	v.SetDefault("refill.min_history_days", 7)
	v.SetDefault("refill.safety_buffer_days", 4)
	v.SetDefault("refill.critical_days", 3)
	v.SetDefault("refill.warning_days", 10)
	v.SetDefault("refill.high_confidence_days", 21)

	// Interaction defaults
	v.SetDefault("interaction.lookup_base_url", "https://rxnav.nlm.nih.gov/REST")
	v.SetDefault("interaction.lookup_timeout", 12)
	v.SetDefault("interaction.lookup_rate_limit", 5.0)
	v.SetDefault("interaction.breaker_failures", 5)
	v.SetDefault("interaction.breaker_cooldown", 60)

	// Scheduler defaults
	v.SetDefault("scheduler.daily_init_spec", "5 0 * * *")
	v.SetDefault("scheduler.refill_recompute_spec", "@every 6h")

	// Security defaults
	v.SetDefault("security.allow_origins", []string{"*"})
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pilltrail")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "pilltrail")
}

// loadEnvOverrides loads specific env vars that Viper doesn't handle well
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.Server.Address = getEnv("PILLTRAIL_SERVER_ADDRESS", cfg.Server.Address)
	if port := os.Getenv("PILLTRAIL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	cfg.Storage.DataDir = getEnv("PILLTRAIL_STORAGE_DATA_DIR", cfg.Storage.DataDir)

	cfg.Interaction.LookupBaseURL = getEnv("PILLTRAIL_INTERACTION_LOOKUP_BASE_URL", cfg.Interaction.LookupBaseURL)

	cfg.Security.JWTSecret = getEnv("PILLTRAIL_SECURITY_JWT_SECRET", cfg.Security.JWTSecret)
	cfg.Security.AdminPassword = getEnv("PILLTRAIL_SECURITY_ADMIN_PASSWORD", cfg.Security.AdminPassword)
}

func validate(cfg *Config) error {
	if cfg.Adherence.QualifyingPercent <= 0 || cfg.Adherence.QualifyingPercent > 100 {
		return fmt.Errorf("adherence.qualifying_percent must be in (0,100]")
	}

	if cfg.Refill.CriticalDays > cfg.Refill.WarningDays {
		return fmt.Errorf("refill.critical_days must not exceed refill.warning_days")
	}

	if cfg.Refill.MinHistoryDays > cfg.Refill.HistoryWindowDays {
		return fmt.Errorf("refill.min_history_days must not exceed refill.history_window_days")
	}

	if cfg.Interaction.LookupTimeout <= 0 {
		return fmt.Errorf("interaction.lookup_timeout must be positive")
	}

	// Generate JWT secret if not provided
	if cfg.Security.JWTSecret == "" {
		secret, err := generateSecret(32)
		if err != nil {
			return fmt.Errorf("failed to generate jwt secret: %w", err)
		}
		cfg.Security.JWTSecret = secret
	}

	return nil
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
