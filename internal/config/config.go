package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ClientType is the transport used to reach an MCP server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Config holds the application configuration
type Config struct {
	LLM        LLMConfig
	Server     ServerConfig
	History    HistoryConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Client     ClientConfig
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
	LogLevel   string            `mapstructure:"log_level"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float32 `mapstructure:"temperature"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	// RateLimit is the sustained requests per second allowed per conversation.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// HistoryConfig locates the sqlite message store.
type HistoryConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// RedisConfig enables the message list cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig enables bearer token checks when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ClientConfig drives the chat client.
type ClientConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	Model           string        `mapstructure:"model"`
	VoiceProfileID  string        `mapstructure:"voice_profile_id"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RefreshAttempts int           `mapstructure:"refresh_attempts"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RetireAfter     time.Duration `mapstructure:"retire_after"`
}

// MCPServerConfig describes one MCP server queried for system prompts.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("history.db_path", "history.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.model", "")
	v.SetDefault("client.voice_profile_id", "")
	v.SetDefault("client.request_timeout", 2*time.Minute)
	v.SetDefault("client.refresh_attempts", 5)
	v.SetDefault("client.refresh_interval", 500*time.Millisecond)
	v.SetDefault("client.retire_after", 30*time.Second)
}

// Load loads the configuration from config.yaml in the working directory, or
// from the file named by CONFIG_PATH. A .env file, when present, is loaded
// into the environment first; JARVIS_-prefixed variables override file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("JARVIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ValidateServer reports settings the backend cannot run without.
func (c *Config) ValidateServer() error {
	var missing []string
	if c.LLM.BaseURL == "" {
		missing = append(missing, "llm.base_url")
	}
	if c.LLM.Model == "" {
		missing = append(missing, "llm.model")
	}
	if c.Server.Port == "" {
		missing = append(missing, "server.port")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateClient reports settings the chat client cannot run without.
func (c *Config) ValidateClient() error {
	if c.Client.BaseURL == "" {
		return errors.New("missing required configuration: client.base_url")
	}
	if c.Client.RefreshAttempts < 1 {
		return fmt.Errorf("client.refresh_attempts must be at least 1, got %d", c.Client.RefreshAttempts)
	}
	return nil
}
