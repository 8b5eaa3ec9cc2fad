package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	SignalURL string `mapstructure:"signal_url"`
	RosterURL string `mapstructure:"roster_url"`
	SelfID    string `mapstructure:"self_id"`

	ICEServers []string `mapstructure:"ice_servers"`

	DisconnectGrace    time.Duration `mapstructure:"disconnect_grace"`
	RestartWindow      time.Duration `mapstructure:"restart_window"`
	MaxLinkRetries     int           `mapstructure:"max_link_retries"`
	SignalStallTimeout time.Duration `mapstructure:"signal_stall_timeout"`
	CandidateQueueCap  int           `mapstructure:"candidate_queue_cap"`
	RosterRefresh      time.Duration `mapstructure:"roster_refresh"`

	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendBuffer int           `mapstructure:"send_buffer"`
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
	v.SetDefault("secret", "meshcall-dev-secret")
	v.SetDefault("port", 8081)
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("roster_url", "http://localhost:8080/api")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("disconnect_grace", "4s")
	v.SetDefault("restart_window", "4s")
	v.SetDefault("max_link_retries", 3)
	v.SetDefault("signal_stall_timeout", "30s")
	v.SetDefault("candidate_queue_cap", 100)
	v.SetDefault("roster_refresh", "5s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Signal: %s\n", cfg.Mode, cfg.Port, cfg.SignalURL)
	return &cfg, nil
}
