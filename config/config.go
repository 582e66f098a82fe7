package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	CreateRPM      int           `mapstructure:"create_rpm"` // research creations per minute per IP
	StatusRPM      int           `mapstructure:"status_rpm"` // status polls per minute per IP
	HeartbeatEvery time.Duration `mapstructure:"heartbeat_every"`
}

func (s ServerConfig) Validate() error {
	if s.CreateRPM <= 0 || s.StatusRPM <= 0 {
		return fmt.Errorf("server.create_rpm and server.status_rpm must be > 0")
	}
	return nil
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string              `mapstructure:"type"` // openai, anthropic, etc.
	APIKey  string              `mapstructure:"api_key"`
	BaseURL string              `mapstructure:"base_url"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for each pipeline stage
type LLMRoutingConfig struct {
	Search     string `mapstructure:"search"`     // URL discovery
	Specialist string `mapstructure:"specialist"` // per-platform extraction
	Response   string `mapstructure:"response"`   // final synthesis
	Fallback   string `mapstructure:"fallback"`   // used when a stage model is unset
}

// Model resolves the model key for a stage, falling back when unset.
func (r LLMRoutingConfig) Model(stage string) string {
	var m string
	switch stage {
	case "search":
		m = r.Search
	case "specialist":
		m = r.Specialist
	case "response":
		m = r.Response
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// ResearchConfig contains pipeline settings
type ResearchConfig struct {
	MaxURLsPerPlatform       int           `mapstructure:"max_urls_per_platform"`
	MaxConcurrentSpecialists int           `mapstructure:"max_concurrent_specialists"`
	RunTimeout               time.Duration `mapstructure:"run_timeout"`
	StageTimeout             time.Duration `mapstructure:"stage_timeout"`
}

func (r ResearchConfig) Validate() error {
	if r.MaxURLsPerPlatform < 1 || r.MaxURLsPerPlatform > 3 {
		return fmt.Errorf("research.max_urls_per_platform must be between 1 and 3")
	}
	if r.MaxConcurrentSpecialists <= 0 {
		return fmt.Errorf("research.max_concurrent_specialists must be > 0")
	}
	return nil
}

// ToolsConfig contains discovery and extraction tool settings
type ToolsConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // serper or brave
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// WebFetchConfig contains headless fetch settings
type WebFetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8097")
	viper.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	viper.SetDefault("server.create_rpm", 10)
	viper.SetDefault("server.status_rpm", 60)
	viper.SetDefault("server.heartbeat_every", 30*time.Second)
	viper.SetDefault("research.max_urls_per_platform", 1)
	viper.SetDefault("research.max_concurrent_specialists", 5)
	viper.SetDefault("research.run_timeout", 30*time.Minute)
	viper.SetDefault("research.stage_timeout", 10*time.Minute)
	viper.SetDefault("tools.web_search.provider", "serper")
	viper.SetDefault("tools.web_search.max_results", 5)
	viper.SetDefault("tools.web_search.timeout", 15*time.Second)
	viper.SetDefault("tools.web_fetch.timeout", 15*time.Second)
	viper.SetDefault("tools.web_fetch.max_chars", 20000)
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (DEEPRESEARCH_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.Research.Validate(); err != nil {
		panic(err)
	}
	return &config
}
