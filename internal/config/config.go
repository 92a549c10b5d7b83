// Package config loads environment-sourced process settings and the
// YAML-defined list of deployable services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nikitakiselev/pushbot/internal/core"
)

// defaultConfigPath is used only when PUSHBOT_CONFIG is unset, e.g. for
// local runs of `pushbot serve` outside the CLI's normal init->serve flow.
const defaultConfigPath = "services.yaml"

// Config holds every environment-sourced setting (spec.md §6).
type Config struct {
	APIPort             string        `mapstructure:"API_PORT"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	PushbotConfig       string        `mapstructure:"PUSHBOT_CONFIG"`
	GitHubWebhookSecret string        `mapstructure:"GITHUB_WEBHOOK_SECRET"`
	ReconcileTimeout    time.Duration `mapstructure:"RECONCILE_TIMEOUT"`
}

// Load reads process configuration from the environment, applying the
// defaults roundhouse-style config loaders use when a variable is unset.
func Load() (*Config, error) {
	viper.SetDefault("API_PORT", "8080")
	viper.SetDefault("PUSHBOT_CONFIG", defaultConfigPath)
	viper.SetDefault("RECONCILE_TIMEOUT", 30*time.Second)

	viper.BindEnv("API_PORT")
	viper.BindEnv("DATABASE_URL")
	viper.BindEnv("PUSHBOT_CONFIG")
	viper.BindEnv("GITHUB_WEBHOOK_SECRET")
	viper.BindEnv("RECONCILE_TIMEOUT")

	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return &cfg, nil
}

// servicesFile mirrors the YAML shape the original deployment read:
// a flat list of service definitions under a top-level `services` key.
type servicesFile struct {
	Services []core.ServiceConfig `yaml:"services"`
}

// LoadServices parses the YAML configuration file referenced by
// PUSHBOT_CONFIG into the set of configured services the registry
// reconciles against (spec.md §4.C, §6).
func LoadServices(path string) ([]core.ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services config %q: %w", path, err)
	}

	var f servicesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse services config %q: %w", path, err)
	}
	return f.Services, nil
}
