package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/voxlead/voxlead/pkg/telephony"
)

// Config is the process-level configuration tree loaded from YAML. Vendor
// settings stay as free-form maps until main decodes them into the typed
// settings struct of the chosen provider.
type Config struct {
	Telephony telephony.Config `mapstructure:"telephony"`
	Vendors   VendorsConfig    `mapstructure:"vendors"`
	Lead      LeadConfig       `mapstructure:"lead"`
	Privacy   PrivacyConfig    `mapstructure:"privacy"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	LogLevel  string           `mapstructure:"log_level"`
	LogFormat string           `mapstructure:"log_format"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// MetricsConfig points call metrics at a JSONL file. Empty path disables
// emission entirely.
type MetricsConfig struct {
	Path string `mapstructure:"path"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type SynthesisConfig struct {
	Primary  VendorConfig `mapstructure:"primary"`
	Fallback VendorConfig `mapstructure:"fallback"`
}

type VendorsConfig struct {
	STT       VendorConfig    `mapstructure:"stt"`
	LLM       VendorConfig    `mapstructure:"llm"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
}

type LeadConfig struct {
	WebhookURL   string `mapstructure:"webhook_url"`
	TimeoutMS    int    `mapstructure:"timeout_ms"`
	BusinessName string `mapstructure:"business_name"`
	BusinessID   string `mapstructure:"business_id"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("telephony.addr", ":8080")
	v.SetDefault("telephony.voice_path", "/voice")
	v.SetDefault("telephony.ws_path", "/ws")
	v.SetDefault("telephony.prime_frames", 3)
	v.SetDefault("telephony.declare_track", false)
	v.SetDefault("telephony.content_type_hint", false)
	v.SetDefault("lead.timeout_ms", 10000)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Vendors.Synthesis.Primary.Provider) == "" {
		return fmt.Errorf("vendors.synthesis.primary.provider is required")
	}
	return nil
}

// expandEnvStrings resolves ${VAR} references so API keys can live in the
// environment instead of the config file.
func expandEnvStrings(cfg *Config) {
	cfg.Telephony.PublicURL = os.ExpandEnv(cfg.Telephony.PublicURL)
	cfg.Telephony.AuthToken = os.ExpandEnv(cfg.Telephony.AuthToken)
	cfg.Lead.WebhookURL = os.ExpandEnv(cfg.Lead.WebhookURL)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Vendors.Synthesis.Primary.Settings = expandSettings(cfg.Vendors.Synthesis.Primary.Settings)
	cfg.Vendors.Synthesis.Fallback.Settings = expandSettings(cfg.Vendors.Synthesis.Fallback.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
