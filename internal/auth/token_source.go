// Package auth resolves Datadog API credentials and MCP session tokens.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CredentialSource identifies where credentials were resolved from.
type CredentialSource string

const (
	// CredentialSourceMCPEnv is DATADOG_MCP_API_KEY / DATADOG_MCP_APP_KEY.
	CredentialSourceMCPEnv CredentialSource = "datadog_mcp_env"
	// CredentialSourceSharedEnv is DD_API_KEY / DD_APP_KEY.
	CredentialSourceSharedEnv CredentialSource = "dd_env"
	// CredentialSourceFile is the YAML credentials file.
	CredentialSourceFile CredentialSource = "credentials_file"
)

// Credentials holds a Datadog API key pair.
type Credentials struct {
	APIKey string
	AppKey string
	Source CredentialSource
}

// Complete reports whether both keys are present.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.AppKey != ""
}

// CredentialOptions controls credential resolution.
type CredentialOptions struct {
	AllowCredentialsFile bool
	CredentialsPath      string
}

type credentialsFile struct {
	Datadog struct {
		APIKey string `yaml:"api_key"`
		AppKey string `yaml:"app_key"`
	} `yaml:"datadog"`
	Session  SessionToken   `yaml:"session"`
	Sessions []SessionToken `yaml:"sessions"`
}

// SessionToken is one bearer token accepted on the HTTP transport and the
// scopes it grants.
type SessionToken struct {
	Token   string   `yaml:"token"`
	Subject string   `yaml:"subject"`
	Scopes  []string `yaml:"scopes"`
}

// ResolveCredentials resolves the key pair using deterministic precedence:
// 1) DATADOG_MCP_API_KEY + DATADOG_MCP_APP_KEY
// 2) DD_API_KEY + DD_APP_KEY (DD_APPLICATION_KEY accepted for the app key)
// 3) credentials file datadog.* (only when AllowCredentialsFile=true)
//
// A source is used only when it provides both keys.
func ResolveCredentials(opts CredentialOptions) (Credentials, error) {
	if creds := envPair("DATADOG_MCP_API_KEY", "DATADOG_MCP_APP_KEY"); creds.Complete() {
		creds.Source = CredentialSourceMCPEnv
		return creds, nil
	}

	shared := envPair("DD_API_KEY", "DD_APP_KEY")
	if shared.AppKey == "" {
		shared.AppKey = strings.TrimSpace(os.Getenv("DD_APPLICATION_KEY"))
	}
	if shared.Complete() {
		shared.Source = CredentialSourceSharedEnv
		return shared, nil
	}

	if !opts.AllowCredentialsFile {
		return Credentials{}, nil
	}

	file, err := readCredentialsFile(opts.CredentialsPath)
	if err != nil || file == nil {
		return Credentials{}, err
	}
	creds := Credentials{
		APIKey: strings.TrimSpace(file.Datadog.APIKey),
		AppKey: strings.TrimSpace(file.Datadog.AppKey),
	}
	if !creds.Complete() {
		return Credentials{}, nil
	}
	creds.Source = CredentialSourceFile
	return creds, nil
}

// ResolveSessionTokens returns the tokens HTTP clients may present.
// DATADOG_MCP_SESSION_TOKEN, when set, is the only token. Otherwise, when
// allowed, the credentials file supplies session.token and every entry of
// sessions. Tokens without scopes get defaultScopes.
func ResolveSessionTokens(opts CredentialOptions, defaultScopes []string) ([]SessionToken, error) {
	if token := strings.TrimSpace(os.Getenv("DATADOG_MCP_SESSION_TOKEN")); token != "" {
		return normalizeSessions([]SessionToken{{Token: token}}, defaultScopes)
	}
	if !opts.AllowCredentialsFile {
		return nil, nil
	}
	file, err := readCredentialsFile(opts.CredentialsPath)
	if err != nil || file == nil {
		return nil, err
	}
	return normalizeSessions(append([]SessionToken{file.Session}, file.Sessions...), defaultScopes)
}

func normalizeSessions(candidates []SessionToken, defaultScopes []string) ([]SessionToken, error) {
	seen := make(map[string]struct{}, len(candidates))
	var tokens []SessionToken
	for _, candidate := range candidates {
		token := strings.TrimSpace(candidate.Token)
		if token == "" {
			continue
		}
		if _, dup := seen[token]; dup {
			return nil, fmt.Errorf("session token for %q is listed twice", candidate.Subject)
		}
		seen[token] = struct{}{}

		scopes := candidate.Scopes
		if len(scopes) == 0 {
			scopes = defaultScopes
		}
		tokens = append(tokens, SessionToken{
			Token:   token,
			Subject: defaultIfEmpty(strings.TrimSpace(candidate.Subject), "mcp-session"),
			Scopes:  append([]string(nil), scopes...),
		})
	}
	return tokens, nil
}

func envPair(apiKeyVar, appKeyVar string) Credentials {
	return Credentials{
		APIKey: strings.TrimSpace(os.Getenv(apiKeyVar)),
		AppKey: strings.TrimSpace(os.Getenv(appKeyVar)),
	}
}

func readCredentialsFile(path string) (*credentialsFile, error) {
	configPath := expandPath(defaultIfEmpty(strings.TrimSpace(path), "~/.datadog-mcp/credentials.yaml"))
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	default:
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding credentials file: %w", err)
	}
	return &file, nil
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return filepath.Clean(path)
}
