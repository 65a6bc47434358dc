// ABOUTME: Configuration loading and parsing for feishu-bridge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Provider names accepted by streaming.provider.
const (
	ProviderOpenAI = "openai"
	ProviderDify   = "dify"
)

// Dify application types accepted by streaming.dify.app_type.
const (
	DifyAppChat     = "chat"
	DifyAppWorkflow = "workflow"
)

// Event intake modes accepted by feishu.mode.
const (
	ModeWebhook = "webhook"
	ModeWS      = "ws"
)

// DefaultWSEvents is subscribed on the long connection when feishu.ws_events is empty.
var DefaultWSEvents = []string{"im.message.receive_v1"}

// Config represents the complete feishu-bridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Feishu    FeishuConfig    `yaml:"feishu" toml:"feishu"`
	Streaming StreamingConfig `yaml:"streaming" toml:"streaming"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	Proxy     ProxyConfig     `yaml:"proxy" toml:"proxy"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// FeishuConfig holds the app credentials and event callback settings
type FeishuConfig struct {
	AppID             string `yaml:"app_id" toml:"app_id"`
	AppSecret         string `yaml:"app_secret" toml:"app_secret"`
	BaseURL           string `yaml:"base_url" toml:"base_url"`
	VerificationToken string `yaml:"verification_token" toml:"verification_token"`
	EncryptKey        string `yaml:"encrypt_key" toml:"encrypt_key"`

	// Mode selects how events arrive: HTTP callbacks or the long connection.
	Mode string `yaml:"mode" toml:"mode"`
	// WSEvents lists the event types subscribed on the long connection.
	// Card actions are always handled.
	WSEvents []string `yaml:"ws_events" toml:"ws_events"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// StreamingConfig controls the streaming reply pipeline and the LLM backend
type StreamingConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Provider  string `yaml:"provider" toml:"provider"`
	ReplyMode bool   `yaml:"reply_mode" toml:"reply_mode"`

	OpenAI OpenAIConfig `yaml:"openai" toml:"openai"`
	Dify   DifyConfig   `yaml:"dify" toml:"dify"`
	Memory MemoryConfig `yaml:"memory" toml:"memory"`
	Log    LogConfig    `yaml:"log" toml:"log"`

	UpdateInterval time.Duration `yaml:"-" toml:"-"`
	CreateTimeout  time.Duration `yaml:"-" toml:"-"`
	PatchWait      time.Duration `yaml:"-" toml:"-"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	LogInterval    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	UpdateIntervalRaw string `yaml:"update_interval" toml:"update_interval"`
	CreateTimeoutRaw  string `yaml:"create_timeout" toml:"create_timeout"`
	PatchWaitRaw      string `yaml:"patch_wait" toml:"patch_wait"`
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	LogIntervalRaw    string `yaml:"log_interval" toml:"log_interval"`
}

// EffectiveReplyMode reports whether replies should be threaded under the
// inbound message. Memory needs the reply chain, so it forces reply mode.
func (s StreamingConfig) EffectiveReplyMode() bool {
	return s.ReplyMode || s.Memory.Enabled
}

// OpenAIConfig holds chat-completion backend settings
type OpenAIConfig struct {
	APIURL       string `yaml:"api_url" toml:"api_url"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	Model        string `yaml:"model" toml:"model"`
	SystemPrompt string `yaml:"system_prompt" toml:"system_prompt"`
}

// DifyConfig holds workflow/agent backend settings
type DifyConfig struct {
	APIURL  string `yaml:"api_url" toml:"api_url"`
	APIKey  string `yaml:"api_key" toml:"api_key"`
	AppType string `yaml:"app_type" toml:"app_type"`
}

// MemoryConfig controls multi-turn history retrieval.
// MaxMessages of 0 means no limit.
type MemoryConfig struct {
	Enabled     bool `yaml:"enabled" toml:"enabled"`
	MaxMessages int  `yaml:"max_messages" toml:"max_messages"`
}

// LogConfig controls the per-reply conversation log files.
// MaxFiles of 0 keeps every file.
type LogConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Dir      string `yaml:"dir" toml:"dir"`
	MaxFiles int    `yaml:"max_files" toml:"max_files"`
}

// RelayConfig lists the external subscribers that receive every inbound event
type RelayConfig struct {
	URLs          []string          `yaml:"urls" toml:"urls"`
	SigningSecret string            `yaml:"signing_secret" toml:"signing_secret"`
	Redis         RedisRelayConfig  `yaml:"redis" toml:"redis"`
	Timeout       time.Duration     `yaml:"-" toml:"-"`
	TimeoutRaw    string            `yaml:"timeout" toml:"timeout"`
	Headers       map[string]string `yaml:"headers" toml:"headers"`
}

// RedisRelayConfig publishes relayed events onto a Redis stream
type RedisRelayConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Stream  string `yaml:"stream" toml:"stream"`
}

// ProxyConfig controls the /api/feishu pass-through
type ProxyConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	AuthSecret string `yaml:"auth_secret" toml:"auth_secret"`
}

// DedupeConfig bounds the redelivered-event cache
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     string        `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(string(data), formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is the encoding of a configuration document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes a configuration document, applies defaults and validates it.
func Parse(doc string, format Format) (*Config, error) {
	expanded := expandEnvVars(doc)

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Feishu.RequestTimeout == 0 {
		c.Feishu.RequestTimeout = 30 * time.Second
	}
	if c.Feishu.Mode == "" {
		c.Feishu.Mode = ModeWebhook
	}
	c.Feishu.Mode = strings.ToLower(c.Feishu.Mode)
	if c.Feishu.Mode == ModeWS && len(c.Feishu.WSEvents) == 0 {
		c.Feishu.WSEvents = append([]string(nil), DefaultWSEvents...)
	}

	s := &c.Streaming
	if s.Provider == "" {
		s.Provider = ProviderOpenAI
	}
	s.Provider = strings.ToLower(s.Provider)
	if s.OpenAI.APIURL == "" {
		s.OpenAI.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if s.OpenAI.Model == "" {
		s.OpenAI.Model = "gpt-4o"
	}
	if s.Dify.AppType == "" {
		s.Dify.AppType = DifyAppChat
	}
	s.Dify.AppType = strings.ToLower(s.Dify.AppType)
	if s.Log.Dir == "" {
		s.Log.Dir = "logs/conversations"
	}
	if s.UpdateInterval == 0 {
		s.UpdateInterval = 200 * time.Millisecond
	}
	if s.CreateTimeout == 0 {
		s.CreateTimeout = 10 * time.Second
	}
	if s.PatchWait == 0 {
		s.PatchWait = 2 * time.Second
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 120 * time.Second
	}
	if s.LogInterval == 0 {
		s.LogInterval = 3 * time.Second
	}

	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = 30 * time.Second
	}
	if c.Relay.Redis.Enabled && c.Relay.Redis.Stream == "" {
		c.Relay.Redis.Stream = "feishu-bridge.events"
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 5 * time.Minute
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = 10_000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" {
		return fmt.Errorf("feishu.app_id is required")
	}
	if c.Feishu.AppSecret == "" {
		return fmt.Errorf("feishu.app_secret is required")
	}
	if c.Feishu.Mode != ModeWebhook && c.Feishu.Mode != ModeWS {
		return fmt.Errorf("feishu.mode must be %q or %q, got %q", ModeWebhook, ModeWS, c.Feishu.Mode)
	}
	for i, eventType := range c.Feishu.WSEvents {
		if strings.TrimSpace(eventType) == "" {
			return fmt.Errorf("feishu.ws_events[%d] must not be empty", i)
		}
	}

	if c.Streaming.Enabled {
		if err := c.Streaming.validate(); err != nil {
			return err
		}
	}

	for i, raw := range c.Relay.URLs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("relay.urls[%d]: %w", i, err)
		}
	}
	if c.Relay.Redis.Enabled && c.Relay.Redis.Addr == "" {
		return fmt.Errorf("relay.redis.addr is required when relay.redis is enabled")
	}

	if c.Streaming.Memory.MaxMessages < 0 {
		return fmt.Errorf("streaming.memory.max_messages must not be negative")
	}
	if c.Streaming.Log.MaxFiles < 0 {
		return fmt.Errorf("streaming.log.max_files must not be negative")
	}

	return nil
}

func (s *StreamingConfig) validate() error {
	switch s.Provider {
	case ProviderOpenAI:
		if s.OpenAI.APIKey == "" {
			return fmt.Errorf("streaming.openai.api_key is required")
		}
		if err := validateHTTPURL(s.OpenAI.APIURL); err != nil {
			return fmt.Errorf("streaming.openai.api_url: %w", err)
		}
	case ProviderDify:
		if s.Dify.APIURL == "" {
			return fmt.Errorf("streaming.dify.api_url is required")
		}
		if err := validateHTTPURL(s.Dify.APIURL); err != nil {
			return fmt.Errorf("streaming.dify.api_url: %w", err)
		}
		if s.Dify.AppType != DifyAppChat && s.Dify.AppType != DifyAppWorkflow {
			return fmt.Errorf("streaming.dify.app_type must be %q or %q, got %q", DifyAppChat, DifyAppWorkflow, s.Dify.AppType)
		}
	default:
		return fmt.Errorf("streaming.provider must be %q or %q, got %q", ProviderOpenAI, ProviderDify, s.Provider)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"feishu.request_timeout", cfg.Feishu.RequestTimeoutRaw, &cfg.Feishu.RequestTimeout},
		{"streaming.update_interval", cfg.Streaming.UpdateIntervalRaw, &cfg.Streaming.UpdateInterval},
		{"streaming.create_timeout", cfg.Streaming.CreateTimeoutRaw, &cfg.Streaming.CreateTimeout},
		{"streaming.patch_wait", cfg.Streaming.PatchWaitRaw, &cfg.Streaming.PatchWait},
		{"streaming.request_timeout", cfg.Streaming.RequestTimeoutRaw, &cfg.Streaming.RequestTimeout},
		{"streaming.log_interval", cfg.Streaming.LogIntervalRaw, &cfg.Streaming.LogInterval},
		{"relay.timeout", cfg.Relay.TimeoutRaw, &cfg.Relay.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
