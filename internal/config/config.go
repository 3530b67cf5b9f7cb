// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Environment is the current running environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// Server configuration
	Server struct {
		// Port is the HTTP server port
		Port int `mapstructure:"port"`
		// Host is the HTTP server host
		Host string `mapstructure:"host"`
		// ReadTimeout is the maximum duration for reading the entire request
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
		// WriteTimeout is the maximum duration before timing out writes of the response
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// IdleTimeout is the maximum amount of time to wait for the next request
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	// Store configuration for the persisted registry snapshot
	Store struct {
		// Driver selects the snapshot store implementation ("bolt" or "mongodb")
		Driver string `mapstructure:"driver"`

		// Bolt configuration for the embedded store
		Bolt struct {
			// Path is the bolt database file path
			Path string `mapstructure:"path"`
		} `mapstructure:"bolt"`

		// MongoDB configuration for server deployments
		MongoDB struct {
			// URI is the MongoDB connection URI
			URI string `mapstructure:"uri"`
			// Database is the MongoDB database name
			Database string `mapstructure:"database"`
			// Timeout is the MongoDB operation timeout
			Timeout time.Duration `mapstructure:"timeout"`
			// MaxPoolSize is the maximum number of connections in the connection pool
			MaxPoolSize uint64 `mapstructure:"max_pool_size"`
		} `mapstructure:"mongodb"`
	} `mapstructure:"store"`

	// Sandbox configuration for plugin execution
	Sandbox struct {
		// CallTimeout is the deadline applied to a single capability call
		CallTimeout time.Duration `mapstructure:"call_timeout"`
		// FetchTimeout is the deadline applied to a plugin-initiated fetch
		FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
		// FetchUserAgent is the User-Agent header stamped on plugin fetches
		FetchUserAgent string `mapstructure:"fetch_user_agent"`
		// MaxResponseBytes caps the size of a plugin fetch response body
		MaxResponseBytes int64 `mapstructure:"max_response_bytes"`
		// MaxSourceBytes caps the size of plugin source fetched by reference
		MaxSourceBytes int64 `mapstructure:"max_source_bytes"`
	} `mapstructure:"sandbox"`

	// Search configuration for the fan-out aggregator
	Search struct {
		// ProviderTimeout is the independent per-provider search deadline
		ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
		// PageSize is the page size assumed when a provider declares none
		PageSize int `mapstructure:"page_size"`
		// MaxConcurrent bounds the fan-out worker pool; 0 means unbounded
		MaxConcurrent int `mapstructure:"max_concurrent"`
	} `mapstructure:"search"`

	// Authentication configuration
	Auth struct {
		// JWTSecret is the secret key for signing JWTs
		JWTSecret string `mapstructure:"jwt_secret"`
		// AdminKey is the pre-shared key exchanged for an admin token
		AdminKey string `mapstructure:"admin_key"`
		// TokenExpiry is the expiry time for admin tokens
		TokenExpiry time.Duration `mapstructure:"token_expiry"`
		// AllowedOrigins is the list of allowed CORS origins
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"auth"`

	// WebSocket configuration for the playback event endpoint
	WebSocket struct {
		// MaxMessageSize is the maximum message size
		MaxMessageSize int64 `mapstructure:"max_message_size"`
		// WriteWait is the time allowed to write a message to the peer
		WriteWait time.Duration `mapstructure:"write_wait"`
		// PongWait is the time allowed to read the next pong message from the peer
		PongWait time.Duration `mapstructure:"pong_wait"`
	} `mapstructure:"websocket"`

	// Logging configuration
	Logging struct {
		// Level is the logging level
		Level string `mapstructure:"level"`
		// OutputPaths is the list of output paths for logs
		OutputPaths []string `mapstructure:"output_paths"`
		// ErrorOutputPaths is the list of output paths for error logs
		ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	} `mapstructure:"logging"`

	// Feature flags
	Features struct {
		// EnableMetrics determines whether the /metrics endpoint is exposed
		EnableMetrics bool `mapstructure:"enable_metrics"`
		// EnableLegacyAdapter determines whether foreign-shaped plugins are adapted
		EnableLegacyAdapter bool `mapstructure:"enable_legacy_adapter"`
	} `mapstructure:"features"`
}

// LoadConfig loads the configuration from file and environment variables.
// It looks for a configuration file in the following locations:
// 1. Path specified in the CONFIG_FILE environment variable
// 2. ./configs directory
// 3. ../configs directory
// 4. /etc/pluginhost directory
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Configuration file name and type
	v.SetConfigName("app")
	v.SetConfigType("yaml")

	configFile := os.Getenv("CONFIG_FILE")
	if configFile != "" {
		// Use configuration file from environment variable
		v.SetConfigFile(configFile)
	} else {
		// Search for configuration in common directories
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/pluginhost")
	}

	// Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		// If the configuration file is not found, use environment variables and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Check for environment-specific configuration file
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v.SetConfigName(fmt.Sprintf("app.%s", env))
	if err := v.MergeInConfig(); err != nil {
		// Ignore file not found error for environment config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to merge environment config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load the configuration into the Config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Environment = env

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	// Store defaults
	v.SetDefault("store.driver", "bolt")
	v.SetDefault("store.bolt.path", "./data/registry.db")
	v.SetDefault("store.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongodb.database", "pluginhost")
	v.SetDefault("store.mongodb.timeout", "10s")
	v.SetDefault("store.mongodb.max_pool_size", 20)

	// Sandbox defaults
	v.SetDefault("sandbox.call_timeout", "15s")
	v.SetDefault("sandbox.fetch_timeout", "10s")
	v.SetDefault("sandbox.fetch_user_agent", "Resonate/1.0")
	v.SetDefault("sandbox.max_response_bytes", 8<<20)
	v.SetDefault("sandbox.max_source_bytes", 2<<20)

	// Search defaults
	v.SetDefault("search.provider_timeout", "10s")
	v.SetDefault("search.page_size", 20)
	v.SetDefault("search.max_concurrent", 0)

	// Authentication defaults
	v.SetDefault("auth.token_expiry", "12h")
	v.SetDefault("auth.allowed_origins", []string{"*"})

	// WebSocket defaults
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	// Feature flags defaults
	v.SetDefault("features.enable_metrics", true)
	v.SetDefault("features.enable_legacy_adapter", true)
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	switch config.Store.Driver {
	case "bolt":
		if config.Store.Bolt.Path == "" {
			return errors.New("bolt store path must be set")
		}
	case "mongodb":
		if !strings.HasPrefix(config.Store.MongoDB.URI, "mongodb://") &&
			!strings.HasPrefix(config.Store.MongoDB.URI, "mongodb+srv://") {
			return errors.New("mongodb URI must start with mongodb:// or mongodb+srv://")
		}
	default:
		return fmt.Errorf("unknown store driver: %s", config.Store.Driver)
	}

	if config.Sandbox.CallTimeout <= 0 {
		return errors.New("sandbox call timeout must be positive")
	}
	if config.Search.ProviderTimeout <= 0 {
		return errors.New("search provider timeout must be positive")
	}
	if config.Search.PageSize <= 0 {
		return errors.New("search page size must be positive")
	}

	return nil
}
