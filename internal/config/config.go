package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the relay server settings.
type Config struct {
	AppPort         int           `mapstructure:"APP_PORT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	GeminiAPIKey    string        `mapstructure:"GEMINI_API_KEY"`
	GCPProjectID    string        `mapstructure:"GOOGLE_CLOUD_PROJECT_ID"`
	GeminiBaseURL   string        `mapstructure:"GEMINI_BASE_URL"`
	GeminiChatModel string        `mapstructure:"GEMINI_CHAT_MODEL"`
	VertexBaseURL   string        `mapstructure:"VERTEX_BASE_URL"`
	VertexLocation  string        `mapstructure:"VERTEX_LOCATION"`
	ImageModel      string        `mapstructure:"IMAGE_MODEL"`
	ImageAuthMode   string        `mapstructure:"IMAGE_AUTH_MODE"`
	UpstreamTimeout time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	MaxBodyBytes    int64         `mapstructure:"MAX_BODY_BYTES"`

	// ConfigFile is the .env file that was read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

// ClientConfig holds the chat client settings.
type ClientConfig struct {
	RelayURL       string        `mapstructure:"RELAY_URL"`
	StoreBackend   string        `mapstructure:"STORE_BACKEND"`
	StorePath      string        `mapstructure:"STORE_PATH"`
	RedisAddr      string        `mapstructure:"REDIS_ADDR"`
	StorageKey     string        `mapstructure:"STORAGE_KEY"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	ConfigFile string `mapstructure:"-"`
}

func LoadConfig() (*Config, error) {
	v := newViper()
	v.SetDefault("APP_PORT", 8000)
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GOOGLE_CLOUD_PROJECT_ID", "")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("GEMINI_CHAT_MODEL", "gemini-2.5-pro")
	v.SetDefault("VERTEX_BASE_URL", "")
	v.SetDefault("VERTEX_LOCATION", "us-central1")
	v.SetDefault("IMAGE_MODEL", "imagegeneration@006")
	v.SetDefault("IMAGE_AUTH_MODE", "query")
	v.SetDefault("UPSTREAM_TIMEOUT", "60s")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	return &cfg, nil
}

func LoadClientConfig() (*ClientConfig, error) {
	v := newViper()
	v.SetDefault("RELAY_URL", "http://localhost:8000/api/proxy")
	v.SetDefault("STORE_BACKEND", "sqlite")
	v.SetDefault("STORE_PATH", "pai.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("STORAGE_KEY", "aiChatHistory")
	v.SetDefault("REQUEST_TIMEOUT", "90s")
	v.SetDefault("LOG_LEVEL", "WARN")

	if err := readInConfig(v); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func readInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}
