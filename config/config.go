/*
Package config loads server configuration.

PURPOSE:
  Collects every tunable of the server in one struct. Values come from, in
  increasing precedence: built-in defaults, an optional YAML file, a .env
  file in the working directory, and SPORTCOIN_* environment variables.
  Command-line flags are applied by cmd/server on top of the result.

ENVIRONMENT:
  Keys map to variables by upper-casing and replacing dots with
  underscores: database.dsn -> SPORTCOIN_DATABASE_DSN.

SEE ALSO:
  - cmd/server/main.go: flags and wiring
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SPORTCOIN"

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Coins      CoinsConfig
	Policy     PolicyConfig
	Auth       AuthConfig
	Settlement SettlementConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type DatabaseConfig struct {
	Driver    string // sqlite | postgres
	DSN       string
	OpTimeout time.Duration
}

type CoinsConfig struct {
	RegistrationBonus  int64
	GovernmentValidity time.Duration
}

type PolicyConfig struct {
	File string // JSON policy document; empty uses the built-in policy
}

type AuthConfig struct {
	JWTSecret        string // empty disables caller authentication
	SpendTokenSecret string
	SpendTokenTTL    time.Duration
}

type SettlementConfig struct {
	SchedulerEnabled bool
	Interval         time.Duration
	Concurrency      int
	Period           string // monthly | weekly | quarterly
}

type LoggingConfig struct {
	RollbarToken string
	Environment  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "sportcoin.db")
	v.SetDefault("database.op_timeout", 5*time.Second)

	v.SetDefault("coins.registration_bonus", 100)
	v.SetDefault("coins.government_validity", 365*24*time.Hour)

	v.SetDefault("policy.file", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.spend_token_secret", "")
	v.SetDefault("auth.spend_token_ttl", 10*time.Minute)

	v.SetDefault("settlement.scheduler_enabled", false)
	v.SetDefault("settlement.interval", 24*time.Hour)
	v.SetDefault("settlement.concurrency", 4)
	v.SetDefault("settlement.period", "monthly")

	v.SetDefault("logging.rollbar_token", "")
	v.SetDefault("logging.environment", "development")
}

// Load reads configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Driver:    strings.ToLower(v.GetString("database.driver")),
			DSN:       v.GetString("database.dsn"),
			OpTimeout: v.GetDuration("database.op_timeout"),
		},
		Coins: CoinsConfig{
			RegistrationBonus:  v.GetInt64("coins.registration_bonus"),
			GovernmentValidity: v.GetDuration("coins.government_validity"),
		},
		Policy: PolicyConfig{File: v.GetString("policy.file")},
		Auth: AuthConfig{
			JWTSecret:        v.GetString("auth.jwt_secret"),
			SpendTokenSecret: v.GetString("auth.spend_token_secret"),
			SpendTokenTTL:    v.GetDuration("auth.spend_token_ttl"),
		},
		Settlement: SettlementConfig{
			SchedulerEnabled: v.GetBool("settlement.scheduler_enabled"),
			Interval:         v.GetDuration("settlement.interval"),
			Concurrency:      v.GetInt("settlement.concurrency"),
			Period:           strings.ToLower(v.GetString("settlement.period")),
		},
		Logging: LoggingConfig{
			RollbarToken: v.GetString("logging.rollbar_token"),
			Environment:  v.GetString("logging.environment"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server.port %d", c.Server.Port)
	}
	if c.Coins.RegistrationBonus < 0 {
		return fmt.Errorf("config: coins.registration_bonus cannot be negative")
	}
	switch c.Settlement.Period {
	case "monthly", "weekly", "quarterly":
	default:
		return fmt.Errorf("config: settlement.period must be monthly, weekly or quarterly, got %q", c.Settlement.Period)
	}
	return nil
}
