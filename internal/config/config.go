// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	LogMode     string `mapstructure:"log_mode"`

	// Model and runtime configuration
	Model          string `mapstructure:"model"`
	ORTLibrary     string `mapstructure:"ort_library"`
	InterOpThreads int    `mapstructure:"inter_op_threads"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
	OutputName     string `mapstructure:"output_name"`

	// Result cache configuration; empty Redis disables the cache
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 50051)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("log_mode", "debug")
	v.SetDefault("model", "lama_fp32.onnx")
	v.SetDefault("ort_library", "")
	v.SetDefault("inter_op_threads", 4)
	v.SetDefault("intra_op_threads", 4)
	v.SetDefault("output_name", "output")
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("use_mock_inference", false)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("LAMA_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("otel_endpoint", "LAMA_SERVICE_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("use_mock_inference", "LAMA_SERVICE_USE_MOCK")
}

// Load loads configuration from environment variables, an optional config file and
// defaults. configPath, when set, must exist; otherwise config.yaml is searched for
// in the usual places and may be absent.
// Priority (highest to lowest): env vars > config file > defaults. Callers apply
// flags on top with Override.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lama-service/")
		v.AddConfigPath("$HOME/.lama-service")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Override sets non-zero values on v and decodes the result.
func Override(v *viper.Viper, values map[string]interface{}) (*Config, error) {
	for key, value := range values {
		switch x := value.(type) {
		case string:
			if x == "" {
				continue
			}
		case int:
			if x <= 0 {
				continue
			}
		case bool:
			if !x {
				continue
			}
		}
		v.Set(key, value)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.OTELEndpoint != "" {
		cfg.OTELEnabled = true
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.Model == "" && !c.UseMockInference {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if c.InterOpThreads < 0 || c.IntraOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative: inter=%d, intra=%d", c.InterOpThreads, c.IntraOpThreads)
	}
	if c.OutputName == "" {
		return fmt.Errorf("output_name is required")
	}
	if c.Redis != "" && c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive when redis is set")
	}
	return nil
}
