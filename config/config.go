// Package config loads carelink settings with viper. Values come from, in
// increasing priority: built-in defaults, a YAML file (.carelink.yml or the
// file named by --config / CARELINK_CONFIG_FILE), a .env file and the
// process environment (CARELINK_<SECTION>_<KEY>), and command-line flags
// bound by the CLI.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mbocsi/carelink/client"
)

const EnvPrefix = "CARELINK"

type Config struct {
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	API         APIConfig         `mapstructure:"api"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Console     ConsoleConfig     `mapstructure:"console"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Log         LogConfig         `mapstructure:"log"`
}

type RealtimeConfig struct {
	// Origin is the page origin the WebSocket endpoint is derived from.
	// Empty means discover a relay over mDNS.
	Origin           string        `mapstructure:"origin"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	Backoff          BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Floor   time.Duration `mapstructure:"floor"`
	Ceiling time.Duration `mapstructure:"ceiling"`
	Factor  float64       `mapstructure:"factor"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"` // empty disables list reloads
	Timeout time.Duration `mapstructure:"timeout"`
}

type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

type DashboardConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type ConsoleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bell    bool `mapstructure:"bell"`
}

type RelayConfig struct {
	Addr        string        `mapstructure:"addr"`
	MaxSessions int           `mapstructure:"max_sessions"`
	AuthTimeout time.Duration `mapstructure:"auth_timeout"`
	AllowGuests bool          `mapstructure:"allow_guests"`
	Advertise   bool          `mapstructure:"advertise"`
	Secure      bool          `mapstructure:"secure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("realtime.origin", "")
	v.SetDefault("realtime.discovery_timeout", 5*time.Second)
	v.SetDefault("realtime.backoff.floor", client.DefaultBackoff.Floor)
	v.SetDefault("realtime.backoff.ceiling", client.DefaultBackoff.Ceiling)
	v.SetDefault("realtime.backoff.factor", client.DefaultBackoff.Factor)

	v.SetDefault("api.base_url", "")
	v.SetDefault("api.timeout", 15*time.Second)

	v.SetDefault("credentials.path", DefaultCredentialsPath())

	v.SetDefault("dashboard.enabled", true)
	v.SetDefault("dashboard.addr", "127.0.0.1:8090")

	v.SetDefault("console.enabled", true)
	v.SetDefault("console.bell", true)

	v.SetDefault("relay.addr", ":8080")
	v.SetDefault("relay.max_sessions", 16)
	v.SetDefault("relay.auth_timeout", 10*time.Second)
	v.SetDefault("relay.allow_guests", true)
	v.SetDefault("relay.advertise", false)
	v.SetDefault("relay.secure", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// DefaultCredentialsPath is ~/.carelink/credentials.json, or a relative
// path when the home directory is unknown.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".carelink", "credentials.json")
	}
	return filepath.Join(home, ".carelink", "credentials.json")
}

// Init prepares v: defaults, environment binding, the optional .env file
// and the optional YAML config file. A missing default config file is not
// an error; a missing explicit one is.
func Init(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetConfigName(".carelink")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	b := c.Realtime.Backoff
	if b.Floor <= 0 {
		return fmt.Errorf("realtime.backoff.floor must be positive, got %s", b.Floor)
	}
	if b.Ceiling < b.Floor {
		return fmt.Errorf("realtime.backoff.ceiling (%s) is below the floor (%s)", b.Ceiling, b.Floor)
	}
	if b.Factor < 1 {
		return fmt.Errorf("realtime.backoff.factor must be at least 1, got %g", b.Factor)
	}
	if c.Relay.MaxSessions < 0 {
		return fmt.Errorf("relay.max_sessions cannot be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) Backoff() client.Backoff {
	b := c.Realtime.Backoff
	return client.Backoff{Floor: b.Floor, Ceiling: b.Ceiling, Factor: b.Factor}
}

// ClientLogConfig turns the log section into the logger settings shared by
// every component. Output goes to stderr so stdout stays free for the
// console UI and the MCP stdio transport.
func (c *Config) ClientLogConfig() client.LogConfig {
	level, _ := parseLevel(c.Log.Level)
	return client.LogConfig{Level: level, Format: c.Log.Format, Output: os.Stderr}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q: %w", s, err)
	}
	return level, nil
}
