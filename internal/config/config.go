package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	ReadLimit  int64  `mapstructure:"read_limit"`
	Secret     string `mapstructure:"secret"`

	MaxFileSize int64 `mapstructure:"max_file_size"`

	MeshMaxParticipants int `mapstructure:"mesh_max_participants"`
	CodeRetryLimit      int `mapstructure:"code_retry_limit"`

	RingTimeout        time.Duration `mapstructure:"ring_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	CallCooldown       time.Duration `mapstructure:"call_cooldown"`

	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	PairSessionTTL time.Duration `mapstructure:"pair_session_ttl"`
	MeshSessionTTL time.Duration `mapstructure:"mesh_session_ttl"`
	PairIdleCutoff time.Duration `mapstructure:"pair_idle_cutoff"`
	MeshIdleCutoff time.Duration `mapstructure:"mesh_idle_cutoff"`

	CreateRateLimit  int           `mapstructure:"create_rate_limit"`
	CreateRateWindow time.Duration `mapstructure:"create_rate_window"`
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
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 15728640)
	v.SetDefault("secret", "dev-only-secret")
	v.SetDefault("max_file_size", 10485760)
	v.SetDefault("mesh_max_participants", 8)
	v.SetDefault("code_retry_limit", 64)
	v.SetDefault("ring_timeout", "30s")
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("call_cooldown", "2s")
	v.SetDefault("reap_interval", "10m")
	v.SetDefault("pair_session_ttl", "2h")
	v.SetDefault("mesh_session_ttl", "4h")
	v.SetDefault("pair_idle_cutoff", "30m")
	v.SetDefault("mesh_idle_cutoff", "1h")
	v.SetDefault("create_rate_limit", 10)
	v.SetDefault("create_rate_window", "1m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
