// Package config loads gwp settings from the config file and GWP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/spf13/viper"
)

const (
	EnvPrefix     = "GWP"
	EnvConfigPath = "GWP_CONFIG"

	BackendTOML   = "toml"
	BackendSQLite = "sqlite"

	configDir  = ".gateway-pool"
	configFile = "config.toml"
)

type Config struct {
	Log      LogConfig
	Accounts AccountsConfig
	Affinity AffinityConfig
	Pool     PoolConfig
	Gateway  GatewayConfig
	Server   ServerConfig
}

type LogConfig struct {
	Level string
}

type AccountsConfig struct {
	Backend  string
	Path     string
	DSN      string
	Declared []domain.Account
}

type AffinityConfig struct {
	Path string
}

type PoolConfig struct {
	Size        int
	Serial      bool
	Concurrency int
	Cooldown    time.Duration
	// Refresh is how often serve repopulates the pool. Zero disables it.
	Refresh time.Duration
}

type GatewayConfig struct {
	URL                string
	APIBase            string
	HandshakeTimeout   time.Duration
	InteractionTimeout time.Duration
}

type ServerConfig struct {
	Addr string
}

type declaredAccount struct {
	Name      string `mapstructure:"name"`
	Token     string `mapstructure:"token"`
	TokenEnv  string `mapstructure:"token_env"`
	ServerID  string `mapstructure:"server_id"`
	ChannelID string `mapstructure:"channel_id"`
	Mode      string `mapstructure:"mode"`
}

// New returns a viper instance bound to the config file at path and GWP_* env vars.
// An empty path resolves to $GWP_CONFIG, then ~/.gateway-pool/config.toml.
// A missing file is not an error.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	v.SetConfigFile(resolved)
	v.SetConfigType("toml")

	if _, err := os.Stat(resolved); errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	return v, nil
}

func resolvePath(path string) (string, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, configDir, configFile)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("accounts.backend", BackendTOML)
	v.SetDefault("accounts.path", "")
	v.SetDefault("accounts.dsn", "")
	v.SetDefault("affinity.path", "")
	v.SetDefault("pool.size", 0)
	v.SetDefault("pool.serial", false)
	v.SetDefault("pool.concurrency", 4)
	v.SetDefault("pool.cooldown", "3s")
	v.SetDefault("pool.refresh", "10m")
	v.SetDefault("gateway.url", "")
	v.SetDefault("gateway.api_base", "")
	v.SetDefault("gateway.handshake_timeout", "30s")
	v.SetDefault("gateway.interaction_timeout", "5m")
	v.SetDefault("server.addr", "127.0.0.1:8080")
}

// Load decodes v into a Config and checks it.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
		setDefaults(v)
	}

	cfg := Config{
		Log: LogConfig{Level: v.GetString("log.level")},
		Accounts: AccountsConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("accounts.backend"))),
			Path:    v.GetString("accounts.path"),
			DSN:     v.GetString("accounts.dsn"),
		},
		Affinity: AffinityConfig{Path: v.GetString("affinity.path")},
		Pool: PoolConfig{
			Size:        v.GetInt("pool.size"),
			Serial:      v.GetBool("pool.serial"),
			Concurrency: v.GetInt("pool.concurrency"),
			Cooldown:    v.GetDuration("pool.cooldown"),
			Refresh:     v.GetDuration("pool.refresh"),
		},
		Gateway: GatewayConfig{
			URL:                v.GetString("gateway.url"),
			APIBase:            v.GetString("gateway.api_base"),
			HandshakeTimeout:   v.GetDuration("gateway.handshake_timeout"),
			InteractionTimeout: v.GetDuration("gateway.interaction_timeout"),
		},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
	}

	var declared []declaredAccount
	if err := v.UnmarshalKey("accounts.declared", &declared); err != nil {
		return Config{}, fmt.Errorf("decode declared accounts: %w", err)
	}
	for _, raw := range declared {
		cfg.Accounts.Declared = append(cfg.Accounts.Declared, raw.account())
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (d declaredAccount) account() domain.Account {
	token := strings.TrimSpace(d.Token)
	if token == "" && d.TokenEnv != "" {
		token = strings.TrimSpace(os.Getenv(d.TokenEnv))
	}
	return domain.Account{
		Name:      strings.TrimSpace(d.Name),
		Token:     token,
		ServerID:  strings.TrimSpace(d.ServerID),
		ChannelID: strings.TrimSpace(d.ChannelID),
		Mode:      domain.ParseMode(d.Mode),
	}
}

func (c Config) validate() error {
	switch c.Accounts.Backend {
	case BackendTOML:
	case BackendSQLite:
		if c.Accounts.DSN == "" {
			return errors.New("accounts.dsn is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported accounts.backend %q", c.Accounts.Backend)
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative, got %d", c.Pool.Size)
	}
	if c.Pool.Concurrency < 0 {
		return fmt.Errorf("pool.concurrency must not be negative, got %d", c.Pool.Concurrency)
	}
	return nil
}

// SlogLevel maps the configured level name, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
