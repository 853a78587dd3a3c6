// Package config loads datadog-mcp configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// TransportStdio runs MCP over stdin/stdout.
	TransportStdio = "stdio"
	// TransportHTTP runs MCP over HTTP with SSE tool streaming.
	TransportHTTP = "http"

	// ModeReadOnly denies allowlisted writes at the gateway.
	ModeReadOnly = "read-only"
	// ModeReadWrite permits allowlisted writes.
	ModeReadWrite = "read-write"

	defaultListenAddr      = ":27780"
	defaultSite            = "datadoghq.com"
	defaultCatalogPath     = "catalog.json"
	defaultInterpreter     = "python3"
	defaultExecTimeout     = 30 * time.Second
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxOutputTokens = 8000
	defaultMaxBodyBytes    = 4 << 20
	defaultRateLimit       = "20/second"
	defaultCredentialsPath = "~/.datadog-mcp/credentials.yaml"
)

// Session tokens may read and run code unless DATADOG_MCP_SESSION_SCOPES
// says otherwise.
var defaultSessionScopes = []string{"datadog:read", "datadog:execute"}

// Config holds service runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	Transport string
	Mode      string
	// EnableWrite must also be set for read-write mode.
	EnableWrite bool

	Site        string
	APIBaseURL  string
	CatalogPath string

	AllowCredentialsFile bool
	CredentialsPath      string

	Interpreter      string
	ExecTimeout      time.Duration
	RequestTimeout   time.Duration
	MaxOutputTokens  int
	MaxResponseBytes int64
	RateLimit        string

	MetricsEnabled bool
	// SessionScopes are granted to the HTTP session token.
	SessionScopes []string
}

// Load returns configuration parsed from environment variables. Malformed
// numeric, boolean or duration values are load errors.
func Load() (Config, error) {
	env := &envReader{}
	cfg := Config{
		ListenAddr:           envOrDefault("DATADOG_MCP_LISTEN_ADDR", defaultListenAddr),
		LogLevel:             strings.ToLower(strings.TrimSpace(envOrDefault("DATADOG_MCP_LOG_LEVEL", "info"))),
		Transport:            strings.ToLower(strings.TrimSpace(envOrDefault("DATADOG_MCP_TRANSPORT", TransportStdio))),
		Mode:                 strings.ToLower(strings.TrimSpace(envOrDefault("DATADOG_MCP_MODE", ModeReadOnly))),
		EnableWrite:          env.parseBool("DATADOG_MCP_ENABLE_WRITE", false),
		Site:                 strings.ToLower(strings.TrimSpace(envOrDefault("DD_SITE", defaultSite))),
		APIBaseURL:           strings.TrimSpace(os.Getenv("DATADOG_MCP_API_BASE_URL")),
		CatalogPath:          strings.TrimSpace(envOrDefault("DATADOG_MCP_CATALOG_PATH", defaultCatalogPath)),
		AllowCredentialsFile: env.parseBool("DATADOG_MCP_ALLOW_CREDENTIALS_FILE", false),
		CredentialsPath:      strings.TrimSpace(envOrDefault("DATADOG_MCP_CREDENTIALS_PATH", defaultCredentialsPath)),
		Interpreter:          strings.TrimSpace(envOrDefault("DATADOG_MCP_INTERPRETER", defaultInterpreter)),
		ExecTimeout:          env.parseDuration("DATADOG_MCP_EXEC_TIMEOUT", defaultExecTimeout),
		RequestTimeout:       env.parseDuration("DATADOG_MCP_REQUEST_TIMEOUT", defaultRequestTimeout),
		MaxOutputTokens:      env.parseInt("DATADOG_MCP_MAX_OUTPUT_TOKENS", defaultMaxOutputTokens),
		MaxResponseBytes:     int64(env.parseInt("DATADOG_MCP_MAX_RESPONSE_BYTES", defaultMaxBodyBytes)),
		RateLimit:            strings.TrimSpace(envOrDefault("DATADOG_MCP_RATE_LIMIT", defaultRateLimit)),
		MetricsEnabled:       env.parseBool("DATADOG_MCP_METRICS_ENABLED", true),
		SessionScopes:        envList("DATADOG_MCP_SESSION_SCOPES", defaultSessionScopes),
	}
	if err := errors.Join(env.errs...); err != nil {
		return Config{}, err
	}

	switch cfg.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return Config{}, fmt.Errorf("invalid DATADOG_MCP_TRANSPORT %q (allowed: %s|%s)", cfg.Transport, TransportStdio, TransportHTTP)
	}

	switch cfg.Mode {
	case ModeReadOnly, ModeReadWrite:
	default:
		return Config{}, fmt.Errorf("invalid DATADOG_MCP_MODE %q (allowed: %s|%s)", cfg.Mode, ModeReadOnly, ModeReadWrite)
	}

	if cfg.ExecTimeout <= 0 {
		return Config{}, fmt.Errorf("invalid DATADOG_MCP_EXEC_TIMEOUT: must be positive")
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Site == "" {
		cfg.Site = defaultSite
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api." + cfg.Site
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	return cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return append([]string(nil), defaultVal...)
	}
	var items []string
	for _, item := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		items = append(items, strings.TrimSpace(item))
	}
	return items
}

// envReader parses typed variables and keeps every malformed value.
type envReader struct {
	errs []error
}

func (e *envReader) invalid(key, value, want string) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s %q: must be %s", key, value, want))
}

func (e *envReader) parseBool(key string, defaultVal bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	switch strings.ToLower(value) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	e.invalid(key, value, "a boolean")
	return defaultVal
}

func (e *envReader) parseInt(key string, defaultVal int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.invalid(key, value, "an integer")
		return defaultVal
	}
	return parsed
}

func (e *envReader) parseDuration(key string, defaultVal time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultVal
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	e.invalid(key, value, "a duration such as 30s")
	return defaultVal
}
