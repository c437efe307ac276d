// Package config provides configuration management for the Skiff server.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Admin   AdminConfig   `mapstructure:"admin"`
	S3      S3Config      `mapstructure:"s3"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// StorageConfig holds the object store and metadata database settings.
type StorageConfig struct {
	Path   string `mapstructure:"path"`
	DBPath string `mapstructure:"db_path"`
}

// AdminConfig holds the admin API settings.
type AdminConfig struct {
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// S3Config holds S3 protocol settings.
type S3Config struct {
	Region     string `mapstructure:"region"`
	PublicHost string `mapstructure:"public_host"`
	CORSOrigin string `mapstructure:"cors_origin"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSOrigins returns the configured CORS origins as a list.
func (c S3Config) CORSOrigins() []string {
	if c.CORSOrigin == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigin, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3000,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Path:   "./storage",
			DBPath: "./metadata.db",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envBindings maps config keys to the environment variables they read from.
var envBindings = map[string]string{
	"server.port":      "PORT",
	"server.host":      "HOST",
	"storage.path":     "STORAGE_PATH",
	"storage.db_path":  "DB_PATH",
	"admin.username":   "ADMIN_USERNAME",
	"admin.password":   "ADMIN_PASSWORD",
	"admin.jwt_secret": "JWT_SECRET",
	"s3.region":        "S3_REGION",
	"s3.public_host":   "S3_PUBLIC_HOST",
	"s3.cors_origin":   "CORS_ORIGIN",
}

// Load reads configuration from environment variables and an optional
// config file in the usual search paths.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("storage.db_path", cfg.Storage.DBPath)
	v.SetDefault("s3.region", cfg.S3.Region)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/skiff")
	v.AddConfigPath("$HOME/.skiff")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
