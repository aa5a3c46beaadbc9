package config

import "github.com/spf13/viper"

type Config struct {
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	WSURL      string `mapstructure:"WS_URL"`
	DBPath     string `mapstructure:"DB_PATH"`
	MediaDir   string `mapstructure:"MEDIA_DIR"`
	TokenPath  string `mapstructure:"TOKEN_PATH"`
	StatusAddr string `mapstructure:"STATUS_ADDR"`
	DeviceID   string `mapstructure:"DEVICE_ID"`
}

func Load() Config {
	viper.AutomaticEnv()
	viper.SetDefault("API_BASE_URL", "http://localhost:8080")
	viper.SetDefault("WS_URL", "ws://localhost:8080/ws")
	viper.SetDefault("DB_PATH", "terrascore.db")
	viper.SetDefault("MEDIA_DIR", "media")
	viper.SetDefault("TOKEN_PATH", "tokens.json")
	viper.SetDefault("STATUS_ADDR", ":8099")
	viper.SetDefault("DEVICE_ID", "")

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}
