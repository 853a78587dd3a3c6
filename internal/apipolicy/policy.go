// Package apipolicy decides which Datadog API operations an agent may reach.
//
// The same allowlist and safe-POST suffixes back two entry points. Catalog
// time compares templated paths literally; request time pattern-matches
// concrete paths against the templates. Anything not matched is denied.
package apipolicy

import (
	"errors"
	"fmt"
	"strings"
)

// Class names the rule that admitted an operation.
type Class string

const (
	// ClassRead is any GET or HEAD.
	ClassRead Class = "read"
	// ClassSafePost is a POST whose path ends in a read-only suffix.
	ClassSafePost Class = "safe-post"
	// ClassAllowlistedWrite is a write listed in the allowlist.
	ClassAllowlistedWrite Class = "allowlisted-write"
	// ClassDenied means no rule matched.
	ClassDenied Class = "denied"
)

// ErrDenied is matched by every DeniedError.
var ErrDenied = errors.New("denied by API policy")

// DeniedError reports a rejected method and path.
type DeniedError struct {
	Method string
	Path   string
	Reason string
}

// Error implements error.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s %s %s: %s", e.Method, e.Path, ErrDenied.Error(), e.ReasonText())
}

// ReasonText is Reason, or the deny-by-default explanation when unset.
func (e *DeniedError) ReasonText() string {
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		return reason
	}
	return "not a read, not a read-only search, and not an allowlisted write"
}

// Is lets errors.Is match ErrDenied.
func (e *DeniedError) Is(target error) bool {
	return target == ErrDenied
}

// table indexes the allowlist by method.
type table struct {
	templates map[string][]string
	exact     map[string]map[string]struct{}
}

var byMethod = buildTable(allowlist)

func buildTable(entries []Entry) table {
	t := table{
		templates: make(map[string][]string),
		exact:     make(map[string]map[string]struct{}),
	}
	for _, entry := range entries {
		method := strings.ToUpper(entry.Method)
		t.templates[method] = append(t.templates[method], entry.Path)
		if t.exact[method] == nil {
			t.exact[method] = make(map[string]struct{})
		}
		t.exact[method][entry.Path] = struct{}{}
	}
	return t
}

// ClassifyAtCatalogTime classifies a templated catalog path.
func ClassifyAtCatalogTime(method, templatePath string) Class {
	method = strings.ToUpper(method)
	if class, ok := classifyRead(method, templatePath); ok {
		return class
	}
	if _, ok := byMethod.exact[method][templatePath]; ok {
		return ClassAllowlistedWrite
	}
	return ClassDenied
}

// ClassifyAtRequestTime classifies a concrete, parameter-substituted path.
func ClassifyAtRequestTime(method, concretePath string) Class {
	method = strings.ToUpper(method)
	if class, ok := classifyRead(method, concretePath); ok {
		return class
	}
	for _, template := range byMethod.templates[method] {
		if MatchPath(template, concretePath) {
			return ClassAllowlistedWrite
		}
	}
	return ClassDenied
}

// AllowedAtCatalogTime reports whether a catalog operation may be published.
func AllowedAtCatalogTime(method, templatePath string) bool {
	return ClassifyAtCatalogTime(method, templatePath) != ClassDenied
}

// AllowedAtRequestTime reports whether a live call may be sent.
func AllowedAtRequestTime(method, concretePath string) bool {
	return ClassifyAtRequestTime(method, concretePath) != ClassDenied
}

func classifyRead(method, path string) (Class, bool) {
	switch method {
	case "GET", "HEAD":
		return ClassRead, true
	case "POST":
		for _, suffix := range safePostSuffixes {
			if strings.HasSuffix(path, suffix) {
				return ClassSafePost, true
			}
		}
	}
	return "", false
}
