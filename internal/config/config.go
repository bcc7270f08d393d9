// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	AgentPort       string
	FrontendURL     string
	AgentBaseURL    string        // Base URL of the agent API the chat front end calls
	RequestTimeout  time.Duration // Deadline for a single agent call
	MaxMessages     int
	ShowErrorDetail bool // Append transport error details to the assistant error text
	DBPath          string
	SessionTTL      time.Duration
	LogLevel        string
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
	UI              UIConfig
}

// RateLimitConfig controls the agent API chat rate limiter.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// QuickSearch is a canned query offered by the front end.
type QuickSearch struct {
	Label string `yaml:"label" json:"label"`
	Query string `yaml:"query" json:"query"`
}

// UIConfig holds user-facing strings. It can be overridden from a YAML file.
type UIConfig struct {
	PageTitle         string        `yaml:"page_title" json:"page_title"`
	WelcomeMessage    string        `yaml:"welcome_message" json:"welcome_message"`
	InputPlaceholder  string        `yaml:"input_placeholder" json:"input_placeholder"`
	LoadingMessage    string        `yaml:"loading_message" json:"loading_message"`
	ErrorMessage      string        `yaml:"error_message" json:"error_message"`
	NoResponseMessage string        `yaml:"no_response_message" json:"no_response_message"`
	NoResultsMessage  string        `yaml:"no_results_message" json:"no_results_message"`
	QuickSearches     []QuickSearch `yaml:"quick_searches" json:"quick_searches"`
}

// DefaultUI returns the built-in UI strings.
func DefaultUI() UIConfig {
	return UIConfig{
		PageTitle:         "PriceFinder Agent",
		WelcomeMessage:    "안녕하세요! 최저가 쇼핑 도우미입니다. 어떤 상품을 찾고 계신가요?",
		InputPlaceholder:  "상품을 검색해보세요... (예: 아이폰 15, 노트북)",
		LoadingMessage:    "검색 중입니다...",
		ErrorMessage:      "죄송합니다. 오류가 발생했습니다. 다시 시도해주세요.",
		NoResponseMessage: "응답을 받지 못했습니다.",
		NoResultsMessage:  "검색 결과가 없습니다. 다른 키워드로 시도해보세요.",
		QuickSearches: []QuickSearch{
			{Label: "📱 스마트폰", Query: "아이폰 15 최저가"},
			{Label: "💻 노트북", Query: "게이밍 노트북 추천"},
			{Label: "🎧 이어폰", Query: "무선 이어폰 비교"},
			{Label: "⌚ 스마트워치", Query: "애플워치 할인"},
		},
	}
}

// Load reads configuration from environment variables, then applies the
// optional YAML file named by PRICEFINDER_CONFIG on top of the UI defaults.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	logLevel := strings.ToLower(getEnv("LOG_LEVEL", "info"))
	if os.Getenv("DEBUG") == "1" {
		logLevel = "debug"
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8501"),
		AgentPort:       getEnv("AGENT_PORT", "8000"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		AgentBaseURL:    strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/"),
		RequestTimeout:  getEnvDuration("API_TIMEOUT", 30*time.Second),
		MaxMessages:     getEnvInt("MAX_MESSAGES", 100),
		ShowErrorDetail: getEnvBool("SHOW_ERROR_DETAIL", true),
		DBPath:          getEnv("DB_PATH", "./data/pricefinder.db"),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
		LogLevel:        logLevel,
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		UI: DefaultUI(),
	}

	if path := os.Getenv("PRICEFINDER_CONFIG"); path != "" {
		if err := cfg.loadUIFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadUIFile overlays UI strings from a YAML file. Keys missing from the
// file keep their defaults.
func (c *Config) loadUIFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file struct {
		UI UIConfig `yaml:"ui"`
	}
	file.UI = c.UI
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.UI = file.UI
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.AgentBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be > 0")
	}
	if c.MaxMessages < 2 {
		return fmt.Errorf("MAX_MESSAGES must be >= 2")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
