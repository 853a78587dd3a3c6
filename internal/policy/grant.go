package policy

import (
	"context"
	"slices"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

// Grant is what the caller of a tool was authorized for. Calls made on its
// behalf later, such as from executed code, are held to it.
type Grant struct {
	Scopes    []string
	Confirmed bool
}

// LocalGrant is the grant of a stdio caller: the local operator holds every
// scope, and confirmation still comes from the call itself.
func LocalGrant(args map[string]any) Grant {
	return Grant{Scopes: []string{ScopeAdmin}, Confirmed: hasConfirmTrue(args)}
}

// AuthorizeAPICall applies the scope and confirmation rules for a direct
// datadog.request to a call of the given class.
func (g Grant) AuthorizeAPICall(class apipolicy.Class, method, path string) error {
	if class != apipolicy.ClassAllowlistedWrite {
		return nil
	}
	for _, scope := range ScopesForAPICall(class) {
		granted := normalizeScopeList(g.Scopes)
		if !slices.Contains(granted, scope) && !slices.Contains(granted, ScopeAdmin) {
			return &apipolicy.DeniedError{Method: method, Path: path, Reason: "allowlisted write requires the " + scope + " scope"}
		}
	}
	if !g.Confirmed {
		return &apipolicy.DeniedError{Method: method, Path: path, Reason: "allowlisted write requires confirm=true on the calling tool"}
	}
	return nil
}

type grantKey struct{}

// WithGrant attaches grant to ctx.
func WithGrant(ctx context.Context, grant Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, grant)
}

// GrantFromContext returns the grant attached to ctx. Without one, the zero
// Grant is returned, which admits no writes.
func GrantFromContext(ctx context.Context) Grant {
	grant, _ := ctx.Value(grantKey{}).(Grant)
	return grant
}
