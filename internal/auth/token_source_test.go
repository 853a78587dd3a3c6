package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATADOG_MCP_API_KEY",
		"DATADOG_MCP_APP_KEY",
		"DD_API_KEY",
		"DD_APP_KEY",
		"DD_APPLICATION_KEY",
		"DATADOG_MCP_SESSION_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func TestResolveCredentials_PrefersMCPEnv(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("DATADOG_MCP_API_KEY", "mcp-api")
	t.Setenv("DATADOG_MCP_APP_KEY", "mcp-app")
	t.Setenv("DD_API_KEY", "dd-api")
	t.Setenv("DD_APP_KEY", "dd-app")

	creds, err := ResolveCredentials(CredentialOptions{})
	require.NoError(t, err)
	require.Equal(t, "mcp-api", creds.APIKey)
	require.Equal(t, "mcp-app", creds.AppKey)
	require.Equal(t, CredentialSourceMCPEnv, creds.Source)
}

func TestResolveCredentials_IncompleteMCPEnvFallsBack(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("DATADOG_MCP_API_KEY", "mcp-api")
	t.Setenv("DD_API_KEY", "dd-api")
	t.Setenv("DD_APPLICATION_KEY", "dd-app")

	creds, err := ResolveCredentials(CredentialOptions{})
	require.NoError(t, err)
	require.Equal(t, "dd-api", creds.APIKey)
	require.Equal(t, "dd-app", creds.AppKey)
	require.Equal(t, CredentialSourceSharedEnv, creds.Source)
}

func TestResolveCredentials_UsesFileWhenAllowed(t *testing.T) {
	clearCredentialEnv(t)
	path := writeCredentials(t, "datadog:\n  api_key: file-api\n  app_key: file-app\nsession:\n  token: file-session\n")

	creds, err := ResolveCredentials(CredentialOptions{AllowCredentialsFile: true, CredentialsPath: path})
	require.NoError(t, err)
	require.True(t, creds.Complete())
	require.Equal(t, CredentialSourceFile, creds.Source)

	tokens, err := ResolveSessionTokens(CredentialOptions{AllowCredentialsFile: true, CredentialsPath: path}, []string{"datadog:read"})
	require.NoError(t, err)
	require.Equal(t, []SessionToken{{Token: "file-session", Subject: "mcp-session", Scopes: []string{"datadog:read"}}}, tokens)
}

func TestResolveCredentials_IgnoresFileWhenNotAllowed(t *testing.T) {
	clearCredentialEnv(t)
	path := writeCredentials(t, "datadog:\n  api_key: file-api\n  app_key: file-app\n")

	creds, err := ResolveCredentials(CredentialOptions{AllowCredentialsFile: false, CredentialsPath: path})
	require.NoError(t, err)
	require.False(t, creds.Complete())
	require.Empty(t, creds.Source)
}

func TestResolveCredentials_MissingFileIsNotAnError(t *testing.T) {
	clearCredentialEnv(t)

	creds, err := ResolveCredentials(CredentialOptions{
		AllowCredentialsFile: true,
		CredentialsPath:      filepath.Join(t.TempDir(), "missing.yaml"),
	})
	require.NoError(t, err)
	require.False(t, creds.Complete())
}

func TestResolveCredentials_MalformedFile(t *testing.T) {
	clearCredentialEnv(t)
	path := writeCredentials(t, "datadog: [not, a, map\n")

	_, err := ResolveCredentials(CredentialOptions{AllowCredentialsFile: true, CredentialsPath: path})
	require.Error(t, err)
	require.Contains(t, err.Error(), "decoding credentials file")
}

func TestResolveSessionTokens_PrefersEnv(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("DATADOG_MCP_SESSION_TOKEN", "env-session")
	path := writeCredentials(t, "session:\n  token: file-session\n")

	tokens, err := ResolveSessionTokens(CredentialOptions{AllowCredentialsFile: true, CredentialsPath: path}, []string{"datadog:read", "datadog:execute"})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "env-session", tokens[0].Token)
	require.Equal(t, []string{"datadog:read", "datadog:execute"}, tokens[0].Scopes)
}

func TestResolveSessionTokens_FileSessions(t *testing.T) {
	clearCredentialEnv(t)
	path := writeCredentials(t, `sessions:
  - token: reader-token
    subject: dashboards-bot
  - token: writer-token
    subject: oncall-agent
    scopes: [datadog:read, datadog:write]
  - token: ""
    subject: disabled
`)

	tokens, err := ResolveSessionTokens(CredentialOptions{AllowCredentialsFile: true, CredentialsPath: path}, []string{"datadog:read"})
	require.NoError(t, err)
	require.Equal(t, []SessionToken{
		{Token: "reader-token", Subject: "dashboards-bot", Scopes: []string{"datadog:read"}},
		{Token: "writer-token", Subject: "oncall-agent", Scopes: []string{"datadog:read", "datadog:write"}},
	}, tokens)
}

func TestResolveSessionTokens_DuplicateToken(t *testing.T) {
	clearCredentialEnv(t)
	path := writeCredentials(t, "session:\n  token: same\nsessions:\n  - token: same\n    subject: twin\n")

	_, err := ResolveSessionTokens(CredentialOptions{AllowCredentialsFile: true, CredentialsPath: path}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "listed twice")
}

func TestResolveSessionTokens_NoneConfigured(t *testing.T) {
	clearCredentialEnv(t)

	tokens, err := ResolveSessionTokens(CredentialOptions{}, []string{"datadog:read"})
	require.NoError(t, err)
	require.Empty(t, tokens)
}

func writeCredentials(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
