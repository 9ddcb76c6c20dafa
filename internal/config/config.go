package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the codechat gateway
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Identity IdentityConfig `mapstructure:"identity"`
	Query    QueryConfig    `mapstructure:"query"`
	Database DatabaseConfig `mapstructure:"database"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig holds the local API server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// BackendConfig holds the remote code-analysis backend endpoints
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	WSURL   string        `mapstructure:"ws_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IdentityConfig holds the user identity supplied by the identity provider
type IdentityConfig struct {
	UserID string `mapstructure:"user_id"`
}

// QueryConfig holds defaults applied to every query envelope
type QueryConfig struct {
	SysPrompt  string `mapstructure:"sys_prompt"`
	IncludeAST bool   `mapstructure:"include_ast"`
	Evaluate   bool   `mapstructure:"evaluate"`
	Limit      int    `mapstructure:"limit"`
}

// DatabaseConfig holds the local history cache configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AdminConfig holds local API authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("CODECHAT")
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.ws_url", "ws://localhost:8000")
	v.SetDefault("backend.timeout", "60s")

	v.SetDefault("identity.user_id", "")

	v.SetDefault("query.sys_prompt", "")
	v.SetDefault("query.include_ast", false)
	v.SetDefault("query.evaluate", false)
	v.SetDefault("query.limit", 5)

	v.SetDefault("database.path", "./data/codechat.db")

	v.SetDefault("admin.api_key", "")
}

// Address returns the local server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
