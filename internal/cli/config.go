package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig is the trustgate daemon configuration, loaded from
// ~/.trustgate/config.yaml (overridable with --config) and TRUSTGATE_*
// environment variables.
type ServiceConfig struct {
	ListenAddr    string `mapstructure:"listen_addr"`
	DataDir       string `mapstructure:"data_dir"`
	PolicyDir     string `mapstructure:"policy_dir"`
	AuditDir      string `mapstructure:"audit_dir"`
	EvalInterval  string `mapstructure:"eval_interval"`
	EvalWorkers   int    `mapstructure:"eval_workers"`
	RetentionDays int    `mapstructure:"retention_days"`
	Log           struct {
		Level string `mapstructure:"level"`
		File  string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// DefaultServiceConfig returns the configuration used when no config
// file exists.
func DefaultServiceConfig() *ServiceConfig {
	home := baseDir()
	cfg := &ServiceConfig{
		ListenAddr:    "127.0.0.1:8370",
		DataDir:       filepath.Join(home, "data"),
		PolicyDir:     filepath.Join(home, "policies"),
		AuditDir:      filepath.Join(home, "audit"),
		EvalInterval:  "24h",
		EvalWorkers:   4,
		RetentionDays: 90,
	}
	cfg.Log.Level = "info"
	return cfg
}

func baseDir() string {
	if dir := os.Getenv("TRUSTGATE_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustgate"
	}
	return filepath.Join(home, ".trustgate")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// LoadServiceConfig reads the service config, falling back to defaults
// when the file does not exist.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	if path == "" {
		path = ConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRUSTGATE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks configuration values.
func (c *ServiceConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if _, err := time.ParseDuration(c.EvalInterval); err != nil {
		return fmt.Errorf("invalid eval_interval %q: %w", c.EvalInterval, err)
	}
	if c.EvalWorkers <= 0 {
		return fmt.Errorf("eval_workers must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	return nil
}

// Interval returns the parsed evaluation interval.
func (c *ServiceConfig) Interval() time.Duration {
	d, err := time.ParseDuration(c.EvalInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Retention returns the sample retention period.
func (c *ServiceConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
