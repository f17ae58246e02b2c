package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ProviderConfig struct {
	URL  string `mapstructure:"url"`
	From string `mapstructure:"from"`
	Key  string `mapstructure:"key"`
}

type VoiceConfig struct {
	TokenURL    string `mapstructure:"token_url"`
	CapturePath string `mapstructure:"capture_path"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	Room         string        `mapstructure:"room"`
	Identity     string        `mapstructure:"identity"`
	ThreadsURL   string        `mapstructure:"threads_url"`
	RealtimeURL  string        `mapstructure:"realtime_url"`
	HydrateLimit int           `mapstructure:"hydrate_limit"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffCap   time.Duration `mapstructure:"backoff_cap"`
	MaxAttempts  int           `mapstructure:"max_attempts"`

	Voice VoiceConfig    `mapstructure:"voice"`
	SMS   ProviderConfig `mapstructure:"sms"`
	Call  ProviderConfig `mapstructure:"call"`
	Email ProviderConfig `mapstructure:"email"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("room", "global")
	v.SetDefault("identity", "anonymous")
	v.SetDefault("threads_url", "http://localhost:8000")
	v.SetDefault("realtime_url", "")
	v.SetDefault("hydrate_limit", 50)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("backoff_base", "250ms")
	v.SetDefault("backoff_cap", "15s")
	v.SetDefault("max_attempts", 8)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("room", cfg.Room).Bool("voice", cfg.VoiceEnabled()).Msg("effective config")
	return &cfg, nil
}

// VoiceEnabled gates whether the PTT session is offered at all. Absence of a
// signaling endpoint degrades to a disabled state rather than an error loop.
func (c *Config) VoiceEnabled() bool {
	return c.Voice.TokenURL != ""
}

// RealtimeEnabled reports whether a push endpoint is configured.
func (c *Config) RealtimeEnabled() bool {
	return c.RealtimeURL != ""
}
