package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DLN"

// Mainnet DLN program addresses.
const (
	DefaultSourceProgram      = "src5qyZHqTqecJV4aY6Cb6zDZLMDzrDKKezs22MPHr4"
	DefaultDestinationProgram = "dst5MGcFPoBeREFAA5E3tU5ij8m5uVYwkzkSAbsLbNo"
)

// DatabaseConfig is the configuration shared by every command.
type DatabaseConfig struct {
	DatabaseURL string
	LogLevel    string
}

// Validate checks required fields.
func (c DatabaseConfig) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database-url is required")
	}
	return nil
}

// PollerConfig holds configuration for the chain poller.
type PollerConfig struct {
	DatabaseConfig
	RPCURL             string
	SourceProgram      string
	DestinationProgram string
	PageLimit          int
	MaxPages           int
	IdleDelay          time.Duration
	ActiveDelay        time.Duration
	ErrorDelay         time.Duration
	SaveTimeout        time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
	MetricsAddr        string
}

// Validate checks required fields and value ranges.
func (c PollerConfig) Validate() error {
	if err := c.DatabaseConfig.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("rpc is required")
	}
	if err := validateProgram("source-program", c.SourceProgram); err != nil {
		return err
	}
	if err := validateProgram("destination-program", c.DestinationProgram); err != nil {
		return err
	}
	if c.PageLimit <= 0 || c.PageLimit > 1000 {
		return fmt.Errorf("page-limit must be between 1 and 1000")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max-pages must be greater than zero")
	}
	if c.IdleDelay < 0 || c.ActiveDelay < 0 || c.ErrorDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.SaveTimeout < 0 {
		return fmt.Errorf("save-timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	return nil
}

// LoadDatabase loads the shared configuration.
func LoadDatabase(cfgFile string, flags *pflag.FlagSet) (DatabaseConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return DatabaseConfig{}, err
	}
	return databaseConfig(v), nil
}

// LoadPoller merges config file, environment variables, and flags into PollerConfig.
func LoadPoller(cfgFile string, flags *pflag.FlagSet) (PollerConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return PollerConfig{}, err
	}

	cfg := PollerConfig{
		DatabaseConfig:     databaseConfig(v),
		RPCURL:             v.GetString("rpc"),
		SourceProgram:      strings.TrimSpace(v.GetString("source-program")),
		DestinationProgram: strings.TrimSpace(v.GetString("destination-program")),
		PageLimit:          v.GetInt("page-limit"),
		MaxPages:           v.GetInt("max-pages"),
		IdleDelay:          v.GetDuration("idle-delay"),
		ActiveDelay:        v.GetDuration("active-delay"),
		ErrorDelay:         v.GetDuration("error-delay"),
		SaveTimeout:        v.GetDuration("save-timeout"),
		MaxRetries:         v.GetInt("max-retries"),
		RetryBackoff:       v.GetDuration("retry-backoff"),
		MetricsAddr:        v.GetString("metrics-addr"),
	}

	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")

	v.SetDefault("source-program", DefaultSourceProgram)
	v.SetDefault("destination-program", DefaultDestinationProgram)
	v.SetDefault("page-limit", 100)
	v.SetDefault("max-pages", 10)
	v.SetDefault("idle-delay", 5*time.Second)
	v.SetDefault("active-delay", 5*time.Second)
	v.SetDefault("error-delay", 5*time.Second)
	v.SetDefault("save-timeout", 10*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)

	v.SetDefault("batch-size", 10)
	v.SetDefault("price-endpoint", "https://api.jup.ag/price/v3")
	v.SetDefault("price-ttl", 15*time.Minute)
	v.SetDefault("price-http-timeout", time.Duration(0))
	v.SetDefault("zero-price-policy", "record")
	v.SetDefault("release-timeout", 10*time.Second)
}

func databaseConfig(v *viper.Viper) DatabaseConfig {
	return DatabaseConfig{
		DatabaseURL: v.GetString("database-url"),
		LogLevel:    v.GetString("log-level"),
	}
}

func validateProgram(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if _, err := solana.PublicKeyFromBase58(value); err != nil {
		return fmt.Errorf("%s is not a valid public key: %w", name, err)
	}
	return nil
}
