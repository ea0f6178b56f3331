// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/base32"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/morganforge/coachline/internal/cloud"
	"github.com/morganforge/coachline/internal/logger"
)

// EnvPrefix prefixes every coachline environment variable.
const EnvPrefix = "COACHLINE_"

// DefaultSystemPrompt frames the assistant as the site's coach.
const DefaultSystemPrompt = "You are a friendly, knowledgeable fitness coach for this website. " +
	"Answer questions about training, nutrition, recovery and the coaching programs offered here. " +
	"Keep answers practical and concise, and recommend seeing a medical professional for injuries or health conditions."

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete coachline configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Gateway   GatewayConfig   `toml:"gateway" envPrefix:"GATEWAY_"`
	Assistant AssistantConfig `toml:"assistant" envPrefix:"ASSISTANT_"`
	Chat      ChatConfig      `toml:"chat" envPrefix:"CHAT_"`
	Content   ContentConfig   `toml:"content" envPrefix:"CONTENT_"`
	Admin     AdminConfig     `toml:"admin" envPrefix:"ADMIN_"`
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
}

// ServerConfig configures the HTTP proxy server.
type ServerConfig struct {
	Addr     string `toml:"addr" env:"ADDR"`
	ChatPath string `toml:"chat_path" env:"CHAT_PATH"`
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit       float64       `toml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst       int           `toml:"rate_burst" env:"RATE_BURST"`
	MaxMessages     int           `toml:"max_messages" env:"MAX_MESSAGES"`
	MaxBodyBytes    int64         `toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	TrustedProxies  []string      `toml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
}

// GatewayConfig configures the upstream chat-completions gateway.
type GatewayConfig struct {
	URL     string        `toml:"url" env:"URL"`
	Model   string        `toml:"model" env:"MODEL"`
	APIKey  string        `toml:"api_key" env:"API_KEY"`
	Timeout time.Duration `toml:"timeout" env:"TIMEOUT"`
	Referer string        `toml:"referer" env:"REFERER"`
	Title   string        `toml:"title" env:"TITLE"`
}

// AssistantConfig holds the system prompt. PromptFile wins over Prompt.
type AssistantConfig struct {
	Prompt     string `toml:"prompt" env:"PROMPT"`
	PromptFile string `toml:"prompt_file" env:"PROMPT_FILE"`
}

// ChatConfig configures the terminal chat client.
type ChatConfig struct {
	Endpoint    string        `toml:"endpoint" env:"ENDPOINT"`
	IdleTimeout time.Duration `toml:"idle_timeout" env:"IDLE_TIMEOUT"`
	Locale      string        `toml:"locale" env:"LOCALE"`
	HistoryFile string        `toml:"history_file" env:"HISTORY_FILE"`
}

// ContentConfig configures the site content store.
type ContentConfig struct {
	DBPath string `toml:"db_path" env:"DB_PATH"`
}

// AdminConfig guards content writes. An empty TokenHash disables writes.
type AdminConfig struct {
	TokenHash  string `toml:"token_hash" env:"TOKEN_HASH"`
	TOTPSecret string `toml:"totp_secret" env:"TOTP_SECRET"`
}

// LogConfig configures operator logging.
type LogConfig struct {
	Level   string `toml:"level" env:"LEVEL"`
	NoColor bool   `toml:"no_color" env:"NO_COLOR"`
	Source  bool   `toml:"source" env:"SOURCE"`
}

// conventionalEnv holds variables read without the coachline prefix.
type conventionalEnv struct {
	GatewayAPIKey string `env:"GATEWAY_API_KEY"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	dir, err := Dir()
	if err != nil {
		dir = ".coachline"
	}

	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8787",
			ChatPath:        "/api/chat",
			RateLimit:       2,
			RateBurst:       10,
			MaxMessages:     100,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			URL:     cloud.DefaultGatewayURL,
			Model:   cloud.DefaultModel,
			Timeout: cloud.DefaultTimeout,
			Title:   "Coachline",
		},
		Assistant: AssistantConfig{
			Prompt: DefaultSystemPrompt,
		},
		Chat: ChatConfig{
			Endpoint:    "http://127.0.0.1:8787/api/chat",
			IdleTimeout: 30 * time.Second,
			Locale:      "en",
			HistoryFile: filepath.Join(dir, "chat_history"),
		},
		Content: ContentConfig{
			DBPath: filepath.Join(dir, "content.db"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the coachline configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".coachline"), nil
}

// DefaultPath returns the default TOML config path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load builds the configuration from defaults, the TOML file at path
// (DefaultPath when empty), a .env file and the environment. A missing
// file is not an error. Validation is left to the caller.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadTOML decodes the file at path over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		slog.Warn("could not ensure secure permissions", "path", path, logger.Err(err))
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slog.Warn("unknown config keys ignored", "path", path, "keys", strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads the given .env files (".env" when none) into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables. GATEWAY_API_KEY is honored as
// the conventional name, COACHLINE_GATEWAY_API_KEY takes precedence.
func (c *Config) ApplyEnv() error {
	var conv conventionalEnv
	if err := env.Parse(&conv); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	if conv.GatewayAPIKey != "" {
		c.Gateway.APIKey = conv.GatewayAPIKey
	}

	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// ensureSecurePermissions narrows config files to 0600 since they may hold keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes the configuration as TOML to path with 0600 permissions.
// The write is atomic: readers see either the old or the new file.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# coachline configuration\n")
	buf.WriteString("# Secrets may also come from GATEWAY_API_KEY or COACHLINE_* variables.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := writeFileAtomic(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// writeFileAtomic writes to a synced temp file in the target directory
// and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if err := f.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmp, path)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(field, format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if !strings.HasPrefix(c.Server.ChatPath, "/") {
		add("server.chat_path", "must start with '/', got %q", c.Server.ChatPath)
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1 when rate limiting is enabled")
	}
	if c.Server.MaxMessages < 1 {
		add("server.max_messages", "must be at least 1")
	}
	if c.Server.MaxBodyBytes < 1024 {
		add("server.max_body_bytes", "must be at least 1024")
	}

	// Gateway
	if err := validateHTTPURL(c.Gateway.URL); err != nil {
		add("gateway.url", "%v", err)
	}
	if c.Gateway.Model == "" {
		add("gateway.model", "must not be empty")
	}
	if c.Gateway.Timeout < 0 {
		add("gateway.timeout", "must not be negative")
	}

	// Assistant
	if c.Assistant.Prompt == "" && c.Assistant.PromptFile == "" {
		add("assistant", "either prompt or prompt_file must be set")
	}

	// Chat client
	if err := validateHTTPURL(c.Chat.Endpoint); err != nil {
		add("chat.endpoint", "%v", err)
	}
	if c.Chat.IdleTimeout <= 0 {
		add("chat.idle_timeout", "must be positive")
	}

	// Content
	if c.Content.DBPath == "" {
		add("content.db_path", "must not be empty")
	}

	// Admin
	if c.Admin.TokenHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Admin.TokenHash)); err != nil {
			add("admin.token_hash", "not a bcrypt hash: %v", err)
		}
	}
	if c.Admin.TOTPSecret != "" {
		secret := strings.ToUpper(strings.TrimRight(c.Admin.TOTPSecret, "="))
		if _, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret); err != nil {
			add("admin.totp_secret", "not valid base32")
		}
		if c.Admin.TokenHash == "" {
			add("admin.totp_secret", "requires admin.token_hash")
		}
	}

	// Log
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}

	return result.ErrorOrNil()
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// =============================================================================
// LOOKUP (DOT NOTATION)
// =============================================================================

// Lookup returns the value at a dotted TOML key such as "gateway.model".
// Secret values are redacted.
func (c *Config) Lookup(key string) (any, error) {
	if key == "" {
		return nil, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c.Redacted()).Elem()
	for i, part := range parts {
		field, ok := fieldByTOMLTag(v, part)
		if !ok {
			return nil, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field.Interface(), nil
		}
		if field.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%s is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return nil, fmt.Errorf("invalid key: %s", key)
}

func fieldByTOMLTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Keys lists every leaf key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tag, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
			if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Time{}) {
				walk(f.Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// REDACTION
// =============================================================================

const redacted = "[REDACTED]"

// Redacted returns a copy with secrets replaced, safe to print or log.
func (c *Config) Redacted() *Config {
	safe := *c
	safe.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	if safe.Gateway.APIKey != "" {
		safe.Gateway.APIKey = redacted
	}
	if safe.Admin.TokenHash != "" {
		safe.Admin.TokenHash = redacted
	}
	if safe.Admin.TOTPSecret != "" {
		safe.Admin.TOTPSecret = redacted
	}
	return &safe
}

// String renders the redacted configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return buf.String()
}
