package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ProcessorConfig holds configuration for the task processor.
// InstanceName owns the tasks a processor claims and must be unique among
// running processors; it defaults to the hostname.
type ProcessorConfig struct {
	DatabaseConfig
	BatchSize        int
	ActiveDelay      time.Duration
	ErrorDelay       time.Duration
	PriceEndpoint    string
	PriceAPIKey      string
	PriceTTL         time.Duration
	PriceHTTPTimeout time.Duration
	ZeroPricePolicy  string
	InstanceName     string
	ReleaseTimeout   time.Duration
	MetricsAddr      string
}

// Validate checks required fields and value ranges.
func (c ProcessorConfig) Validate() error {
	if err := c.DatabaseConfig.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.PriceAPIKey) == "" {
		return fmt.Errorf("price-api-key is required")
	}
	if strings.TrimSpace(c.PriceEndpoint) == "" {
		return fmt.Errorf("price-endpoint is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than zero")
	}
	if c.ActiveDelay < 0 || c.ErrorDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if c.PriceTTL < 0 || c.PriceHTTPTimeout < 0 || c.ReleaseTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	switch c.ZeroPricePolicy {
	case "record", "fail":
	default:
		return fmt.Errorf("zero-price-policy must be record or fail, got %q", c.ZeroPricePolicy)
	}
	if strings.TrimSpace(c.InstanceName) == "" {
		return fmt.Errorf("instance-name is required")
	}
	return nil
}

// LoadProcessor merges config file, environment variables, and flags into ProcessorConfig.
func LoadProcessor(cfgFile string, flags *pflag.FlagSet) (ProcessorConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ProcessorConfig{}, err
	}

	instance := strings.TrimSpace(v.GetString("instance-name"))
	if instance == "" {
		instance, err = os.Hostname()
		if err != nil {
			return ProcessorConfig{}, fmt.Errorf("resolve hostname: %w", err)
		}
	}

	cfg := ProcessorConfig{
		DatabaseConfig:   databaseConfig(v),
		BatchSize:        v.GetInt("batch-size"),
		ActiveDelay:      v.GetDuration("active-delay"),
		ErrorDelay:       v.GetDuration("error-delay"),
		PriceEndpoint:    v.GetString("price-endpoint"),
		PriceAPIKey:      v.GetString("price-api-key"),
		PriceTTL:         v.GetDuration("price-ttl"),
		PriceHTTPTimeout: v.GetDuration("price-http-timeout"),
		ZeroPricePolicy:  strings.ToLower(strings.TrimSpace(v.GetString("zero-price-policy"))),
		InstanceName:     instance,
		ReleaseTimeout:   v.GetDuration("release-timeout"),
		MetricsAddr:      v.GetString("metrics-addr"),
	}

	return cfg, nil
}
