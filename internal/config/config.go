package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`

	// CopayRate is the patient share of the dispensing cost; the
	// remainder is billed to insurance. Deployment policy, not a rule.
	CopayRate float64 `mapstructure:"COPAY_RATE"`

	// ExpiryWarnDays is the look-ahead horizon for the expiring-lot
	// report and the LotExpiringSoon sweep.
	ExpiryWarnDays int `mapstructure:"EXPIRY_WARN_DAYS"`

	// RxExpiryDays is how long a pending prescription stays fillable
	// after its written date before the expiry sweep retires it.
	RxExpiryDays int `mapstructure:"RX_EXPIRY_DAYS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("COPAY_RATE", 0.20)
	v.SetDefault("EXPIRY_WARN_DAYS", 30)
	v.SetDefault("RX_EXPIRY_DAYS", 180)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("COPAY_RATE")
	v.BindEnv("EXPIRY_WARN_DAYS")
	v.BindEnv("RX_EXPIRY_DAYS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production a
// JWT secret is mandatory so role enforcement is real; the policy
// parameters must be inside their legal ranges everywhere.
func (c *Config) Validate() error {
	if c.IsProduction() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.CopayRate < 0 || c.CopayRate > 1 {
		return fmt.Errorf("COPAY_RATE must be between 0 and 1, got %v", c.CopayRate)
	}
	if c.ExpiryWarnDays <= 0 {
		return fmt.Errorf("EXPIRY_WARN_DAYS must be positive, got %d", c.ExpiryWarnDays)
	}
	if c.RxExpiryDays <= 0 {
		return fmt.Errorf("RX_EXPIRY_DAYS must be positive, got %d", c.RxExpiryDays)
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}
