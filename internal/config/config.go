package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/cyberdesk-hq/cyberdriver/internal/logging"
)

var log = logging.L("config")

// TLSTrustPolicy names one of the four trust policies the session dialer can
// use when connecting to the cloud host.
type TLSTrustPolicy string

const (
	TrustDefault    TLSTrustPolicy = "default"
	TrustSystem     TLSTrustPolicy = "system-store"
	TrustCustomCA   TLSTrustPolicy = "custom-ca-file"
	TrustNoVerify   TLSTrustPolicy = "no-verify"
)

// Config is the process-wide, immutable-after-start configuration record.
type Config struct {
	Secret      string `mapstructure:"secret"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Fingerprint string `mapstructure:"fingerprint"`
	Version     string `mapstructure:"version"`

	TLSTrustPolicy TLSTrustPolicy `mapstructure:"tls_trust_policy"`
	CAFile         string         `mapstructure:"ca_file"`

	KeepaliveEnabled          bool `mapstructure:"keepalive_enabled"`
	KeepaliveThresholdMinutes int  `mapstructure:"keepalive_threshold_minutes"`
	KeepaliveClickX           int  `mapstructure:"keepalive_click_x"`
	KeepaliveClickY           int  `mapstructure:"keepalive_click_y"`
	KeepaliveClickSet         bool `mapstructure:"keepalive_click_set"`

	RegisterAsKeepaliveFor string `mapstructure:"register_as_keepalive_for"`

	Interactive bool `mapstructure:"interactive"`

	ShellEnabled bool `mapstructure:"shell_enabled"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns a Config populated with baseline values. Load() layers a
// config file and environment variables on top of this.
func Default() *Config {
	return &Config{
		Host:                      "https://cyberdriver.cloud",
		Port:                      8077,
		TLSTrustPolicy:            TrustDefault,
		KeepaliveEnabled:          false,
		KeepaliveThresholdMinutes: 10,
		LogLevel:                  "info",
		LogFormat:                 "text",
	}
}

// Load reads the layered configuration: defaults, then the YAML file in the
// config directory (if present), then CYBERDRIVER_-prefixed environment
// variables, which take final precedence.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CYBERDRIVER")
	// AutomaticEnv alone only reaches Unmarshal for keys viper already knows
	// from the file, so every field's variable is bound explicitly.
	for _, key := range []string{
		"secret", "host", "port", "fingerprint", "version",
		"tls_trust_policy", "ca_file",
		"keepalive_enabled", "keepalive_threshold_minutes",
		"keepalive_click_x", "keepalive_click_y", "keepalive_click_set",
		"register_as_keepalive_for", "interactive", "shell_enabled",
		"log_level", "log_format",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that would make the agent impossible to
// run correctly. Callers treat a non-nil error as ConfigInvalid (exit 2).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	switch c.TLSTrustPolicy {
	case TrustDefault, TrustSystem, TrustCustomCA, TrustNoVerify:
	default:
		return fmt.Errorf("config: invalid tls trust policy %q", c.TLSTrustPolicy)
	}
	if c.TLSTrustPolicy == TrustCustomCA && c.CAFile == "" {
		return fmt.Errorf("config: custom-ca-file trust policy requires ca_file")
	}
	return nil
}

// Save persists cfg to the default config file location.
func Save(cfg *Config) error {
	return SaveTo(cfg, filepath.Join(Dir(), "config.yaml"))
}

// SaveTo persists cfg as YAML at the given path, creating parent directories
// and restricting the file to owner-only access (it may carry a secret).
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.Set("secret", cfg.Secret)
	v.Set("host", cfg.Host)
	v.Set("port", cfg.Port)
	v.Set("fingerprint", cfg.Fingerprint)
	v.Set("version", cfg.Version)
	v.Set("tls_trust_policy", string(cfg.TLSTrustPolicy))
	v.Set("ca_file", cfg.CAFile)
	v.Set("keepalive_enabled", cfg.KeepaliveEnabled)
	v.Set("keepalive_threshold_minutes", cfg.KeepaliveThresholdMinutes)
	v.Set("keepalive_click_x", cfg.KeepaliveClickX)
	v.Set("keepalive_click_y", cfg.KeepaliveClickY)
	v.Set("keepalive_click_set", cfg.KeepaliveClickSet)
	v.Set("register_as_keepalive_for", cfg.RegisterAsKeepaliveFor)
	v.Set("shell_enabled", cfg.ShellEnabled)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		log.Warn("could not restrict config file permissions", "path", path, "error", err)
	}
	return nil
}

// Dir returns "<user-config-dir>/.cyberdriver", creating it if absent.
func Dir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, ".cyberdriver")
	if err := os.MkdirAll(dir, 0700); err != nil {
		log.Warn("could not create config directory", "dir", dir, "error", err)
	}
	return dir
}
