package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Addr              string        `mapstructure:"addr"`
	MongoURI          string        `mapstructure:"mongo_uri"`
	MongoDatabase     string        `mapstructure:"mongo_database"`
	IdentityDBPath    string        `mapstructure:"identity_db_path"`
	MediaDir          string        `mapstructure:"media_dir"`
	MediaBaseURL      string        `mapstructure:"media_base_url"`
	TokenSecret       string        `mapstructure:"token_secret"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// Load reads configuration from config.yaml (if present) and ROOMCHAT_*
// environment variables, on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("roomchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("addr", ":8080")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("mongo_database", "room_chat")
	v.SetDefault("identity_db_path", "identity.db")
	v.SetDefault("media_dir", "./media")
	v.SetDefault("media_base_url", "http://localhost:8080/media")
	v.SetDefault("token_secret", "")
	v.SetDefault("heartbeat_interval", "5s")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
