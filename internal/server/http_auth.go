package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/auth"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

var (
	// ErrSessionTokenMissing indicates no MCP session token was configured.
	ErrSessionTokenMissing = errors.New("mcp session token is not configured")
	// ErrBearerTokenMissing indicates Authorization header did not contain a bearer token.
	ErrBearerTokenMissing = errors.New("missing or malformed Authorization bearer token")
	// ErrBearerTokenInvalid indicates the bearer token matched no configured session.
	ErrBearerTokenInvalid = errors.New("invalid bearer token for MCP session")
)

// SessionPrincipal is the authenticated caller of an HTTP tool call.
type SessionPrincipal struct {
	Subject string
	Scopes  []string
}

// Grant is what executed code started by this principal may do.
func (p SessionPrincipal) Grant(args map[string]any) policy.Grant {
	confirmed, _ := args["confirm"].(bool)
	return policy.Grant{Scopes: append([]string(nil), p.Scopes...), Confirmed: confirmed}
}

// SessionAuthenticator authenticates HTTP MCP calls.
type SessionAuthenticator interface {
	AuthenticateHTTP(r *http.Request) (SessionPrincipal, error)
}

// TokenSessionAuthenticator accepts a fixed set of bearer tokens, each
// bound to a subject and its Datadog scopes.
type TokenSessionAuthenticator struct {
	sessions []auth.SessionToken
}

// NewTokenSessionAuthenticator builds an authenticator over tokens. Empty
// tokens are ignored; a token never gets scopes it was not configured with.
func NewTokenSessionAuthenticator(tokens ...auth.SessionToken) *TokenSessionAuthenticator {
	sessions := make([]auth.SessionToken, 0, len(tokens))
	for _, token := range tokens {
		value := strings.TrimSpace(token.Token)
		if value == "" {
			continue
		}
		subject := strings.TrimSpace(token.Subject)
		if subject == "" {
			subject = "mcp-session"
		}
		sessions = append(sessions, auth.SessionToken{
			Token:   value,
			Subject: subject,
			Scopes:  normalizeScopes(token.Scopes),
		})
	}
	return &TokenSessionAuthenticator{sessions: sessions}
}

// AuthenticateHTTP matches the Authorization bearer token against every
// configured session in constant time.
func (a *TokenSessionAuthenticator) AuthenticateHTTP(r *http.Request) (SessionPrincipal, error) {
	if len(a.sessions) == 0 {
		return SessionPrincipal{}, ErrSessionTokenMissing
	}
	presented := parseBearerToken(r.Header.Get("Authorization"))
	if presented == "" {
		return SessionPrincipal{}, ErrBearerTokenMissing
	}

	match := -1
	for i, session := range a.sessions {
		if subtle.ConstantTimeCompare([]byte(presented), []byte(session.Token)) == 1 {
			match = i
		}
	}
	if match < 0 {
		return SessionPrincipal{}, ErrBearerTokenInvalid
	}
	session := a.sessions[match]
	return SessionPrincipal{
		Subject: session.Subject,
		Scopes:  append([]string(nil), session.Scopes...),
	}, nil
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func normalizeScopes(scopes []string) []string {
	var result []string
	seen := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// requireToolScopes checks the contract scopes plus whatever the Datadog
// call named in args needs.
func requireToolScopes(tool ToolSpec, principal SessionPrincipal, args map[string]any) error {
	return policy.RequireScopes(tool.Name, requiredScopes(tool, args), principal.Scopes)
}
