// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Daily     DailyConfig     `mapstructure:"daily"`
	Account   AccountConfig   `mapstructure:"account"`
	Games     GamesConfig     `mapstructure:"games"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token         string        `mapstructure:"token"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration. The database
// only archives transactions; the bot runs without it when disabled.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// StorageConfig holds snapshot file configuration.
type StorageConfig struct {
	DataDir  string        `mapstructure:"data_dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// LedgerConfig holds ledger configuration.
type LedgerConfig struct {
	MaxTransactions int `mapstructure:"max_transactions"`
}

// HTTPConfig holds admin API configuration.
type HTTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	AdminKey string `mapstructure:"admin_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// DailyConfig holds daily reward configuration.
type DailyConfig struct {
	Reward        int64 `mapstructure:"reward"`
	CooldownHours int   `mapstructure:"cooldown_hours"`
}

// Cooldown returns the claim window.
func (d DailyConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownHours) * time.Hour
}

// AccountConfig holds new account configuration.
type AccountConfig struct {
	InitialBalance int64 `mapstructure:"initial_balance"`
}

// GamesConfig holds game-specific configuration.
type GamesConfig struct {
	Blackjack BlackjackConfig `mapstructure:"blackjack"`
	Crash     CrashConfig     `mapstructure:"crash"`
	SicBo     SicBoConfig     `mapstructure:"sicbo"`
	Dice      DiceConfig      `mapstructure:"dice"`
}

// BlackjackConfig holds blackjack configuration.
type BlackjackConfig struct {
	MinBet             int64 `mapstructure:"min_bet"`
	MaxBet             int64 `mapstructure:"max_bet"`
	TurnTimeoutSeconds int   `mapstructure:"turn_timeout_seconds"`
}

// CrashConfig holds crash configuration.
type CrashConfig struct {
	MinBet             int64   `mapstructure:"min_bet"`
	MaxBet             int64   `mapstructure:"max_bet"`
	TickMillis         int     `mapstructure:"tick_millis"`
	MaxMultiplier      float64 `mapstructure:"max_multiplier"`
	MaxDurationSeconds int     `mapstructure:"max_duration_seconds"`
}

// SicBoConfig holds sic bo game configuration.
type SicBoConfig struct {
	BettingDurationSeconds int   `mapstructure:"betting_duration_seconds"`
	BetAmount              int64 `mapstructure:"bet_amount"`
}

// DiceConfig holds dice game configuration.
type DiceConfig struct {
	MaxBet          int64 `mapstructure:"max_bet"`
	CooldownSeconds int   `mapstructure:"cooldown_seconds"`
}

// DSN returns the PostgreSQL connection string. URL wins when set.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Path returns the snapshot file path for name inside the data directory.
func (s StorageConfig) Path(name string) string {
	if s.DataDir == "" {
		return ""
	}
	return filepath.Join(s.DataDir, name)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, HTTP_ADMIN_KEY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide all config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	if c.Daily.Reward < 0 {
		return fmt.Errorf("invalid config: daily.reward must not be negative")
	}
	if c.Account.InitialBalance < 0 {
		return fmt.Errorf("invalid config: account.initial_balance must not be negative")
	}
	if c.HTTP.Enabled && c.HTTP.AdminKey == "" {
		return fmt.Errorf("invalid config: http.admin_key is required when http is enabled")
	}
	if c.Games.Blackjack.MaxBet > 0 && c.Games.Blackjack.MaxBet < c.Games.Blackjack.MinBet {
		return fmt.Errorf("invalid config: games.blackjack.max_bet is below min_bet")
	}
	if c.Games.Crash.MaxBet > 0 && c.Games.Crash.MaxBet < c.Games.Crash.MinBet {
		return fmt.Errorf("invalid config: games.crash.max_bet is below min_bet")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Bot defaults
	v.SetDefault("bot.poll_timeout", "10s")
	v.SetDefault("bot.notify_timeout", "10s")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wagerbot")
	v.SetDefault("database.name", "wagerbot")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Storage defaults
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.debounce", "2s")

	v.SetDefault("ledger.max_transactions", 500)

	// Admin API defaults
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	// Daily reward defaults
	v.SetDefault("daily.reward", 500)
	v.SetDefault("daily.cooldown_hours", 24)

	v.SetDefault("account.initial_balance", 1000)

	// Game defaults
	v.SetDefault("games.blackjack.min_bet", 10)
	v.SetDefault("games.blackjack.max_bet", 5000)
	v.SetDefault("games.blackjack.turn_timeout_seconds", 60)
	v.SetDefault("games.crash.min_bet", 5)
	v.SetDefault("games.crash.max_bet", 1000)
	v.SetDefault("games.crash.tick_millis", 500)
	v.SetDefault("games.crash.max_multiplier", 50.0)
	v.SetDefault("games.crash.max_duration_seconds", 90)
	v.SetDefault("games.sicbo.betting_duration_seconds", 60)
	v.SetDefault("games.sicbo.bet_amount", 100)
	v.SetDefault("games.dice.max_bet", 1000)
	v.SetDefault("games.dice.cooldown_seconds", 3)
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
