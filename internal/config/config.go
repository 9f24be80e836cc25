package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ihep/integration-gateway/internal/partner"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	MLLPListenAddr string `mapstructure:"MLLP_LISTEN_ADDR"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	QueueStream   string `mapstructure:"QUEUE_STREAM"`

	RetryMaxAttempts  int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	RetryInitialDelay time.Duration `mapstructure:"RETRY_INITIAL_DELAY"`
	RetryMultiplier   float64       `mapstructure:"RETRY_MULTIPLIER"`

	PartnersFile string `mapstructure:"PARTNERS_FILE"`

	Partners []partner.Definition `mapstructure:"-"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MLLP_LISTEN_ADDR", "0.0.0.0:2575")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("QUEUE_STREAM", "integration-events")
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_DELAY", time.Second)
	v.SetDefault("RETRY_MULTIPLIER", 2.0)
	v.SetDefault("PARTNERS_FILE", "partners.yaml")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MLLP_LISTEN_ADDR")
	v.BindEnv("REDIS_ADDR")
	v.BindEnv("REDIS_PASSWORD")
	v.BindEnv("REDIS_DB")
	v.BindEnv("QUEUE_STREAM")
	v.BindEnv("RETRY_MAX_ATTEMPTS")
	v.BindEnv("RETRY_INITIAL_DELAY")
	v.BindEnv("RETRY_MULTIPLIER")
	v.BindEnv("PARTNERS_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	partners, err := LoadPartners(cfg.PartnersFile)
	if err != nil {
		return nil, err
	}
	cfg.Partners = partners

	return cfg, nil
}

// LoadPartners reads partner definitions from a YAML file. A missing file is
// not an error: the gateway starts with no partners and serves only the
// webhook inspection and MLLP inbound paths.
func LoadPartners(path string) ([]partner.Definition, error) {
	if path == "" {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); missing || strings.Contains(err.Error(), "no such file") {
			return nil, nil
		}
		return nil, fmt.Errorf("read partners file: %w", err)
	}

	var out struct {
		Partners []partner.Definition `mapstructure:"partners"`
	}
	if err := v.Unmarshal(&out); err != nil {
		return nil, fmt.Errorf("unmarshal partners file: %w", err)
	}
	return out.Partners, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// QueueEnabled reports whether a durable queue is configured.
func (c *Config) QueueEnabled() bool {
	return c.RedisAddr != ""
}
