package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	PrefsPath string `mapstructure:"prefs_path"`

	TimerInterval  time.Duration `mapstructure:"timer_interval"`
	MetricsRefresh time.Duration `mapstructure:"metrics_refresh"`

	MicLevel      float64 `mapstructure:"microphone_level"`
	SpeakerVolume float64 `mapstructure:"speaker_volume"`
	MuteWhenJoin  bool    `mapstructure:"mute_when_join"`
	DND           bool    `mapstructure:"dnd"`

	InputDevices  []Device `mapstructure:"input_devices"`
	OutputDevices []Device `mapstructure:"output_devices"`

	STUNServers []string `mapstructure:"stun_servers"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
}

type Device struct {
	ID    string `mapstructure:"id"`
	Label string `mapstructure:"label"`
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
	v.SetDefault("log_level", "info")
	v.SetDefault("prefs_path", "prefs.yaml")
	v.SetDefault("timer_interval", "1s")
	v.SetDefault("metrics_refresh", "2s")
	v.SetDefault("microphone_level", 1.0)
	v.SetDefault("speaker_volume", 1.0)
	v.SetDefault("mute_when_join", false)
	v.SetDefault("dnd", false)
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d\n", cfg.Mode, cfg.Port)
	return &cfg, nil
}
