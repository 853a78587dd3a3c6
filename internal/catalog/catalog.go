// Package catalog builds, stores and searches the policy-filtered list of
// Datadog API operations offered to agents.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

// Parameter is one flattened operation parameter.
type Parameter struct {
	Name        string `json:"name"`
	In          string `json:"in"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// RequestBody summarizes what an operation accepts. Properties lists the
// schema's top-level fields; required ones end in "*".
type RequestBody struct {
	Required    bool     `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	Schema      string   `json:"schema,omitempty"`
	Properties  []string `json:"properties,omitempty"`
}

// Operation is one published method and path.
type Operation struct {
	Method      string       `json:"method"`
	Path        string       `json:"path"`
	OperationID string       `json:"operationId,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Parameters  []Parameter  `json:"parameters,omitempty"`
	HasBody     bool         `json:"hasBody,omitempty"`
	RequestBody *RequestBody `json:"requestBody,omitempty"`
	Deprecated  bool         `json:"deprecated,omitempty"`
	Product     string       `json:"product"`
	Class       string       `json:"class"`
}

// Catalog is the shipped, filtered operation list.
type Catalog struct {
	Sources    []string    `json:"sources,omitempty"`
	Operations []Operation `json:"operations"`
}

// Len returns the number of operations.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Operations)
}

// WithoutWrites returns the operations a read-only gateway will forward.
func (c *Catalog) WithoutWrites() *Catalog {
	if c == nil {
		return &Catalog{}
	}
	out := &Catalog{Sources: append([]string(nil), c.Sources...)}
	for _, op := range c.Operations {
		if op.Class == string(apipolicy.ClassAllowlistedWrite) {
			continue
		}
		out.Operations = append(out.Operations, op)
	}
	return out
}

// Merge concatenates catalogs and re-sorts. Duplicate method+path pairs keep
// the first occurrence.
func Merge(catalogs ...*Catalog) *Catalog {
	merged := &Catalog{}
	seen := make(map[string]struct{})
	for _, c := range catalogs {
		if c == nil {
			continue
		}
		merged.Sources = append(merged.Sources, c.Sources...)
		for _, op := range c.Operations {
			key := op.Method + " " + op.Path
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged.Operations = append(merged.Operations, op)
		}
	}
	sortOperations(merged.Operations)
	return merged
}

// WriteJSON writes the catalog as indented JSON.
func (c *Catalog) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	return nil
}

// ReadJSON decodes a catalog written by WriteJSON.
func ReadJSON(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	sortOperations(c.Operations)
	return &c, nil
}

// LoadFile reads a catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return ReadJSON(f)
}

func sortOperations(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].Path != ops[j].Path {
			return ops[i].Path < ops[j].Path
		}
		return methodRank(ops[i].Method) < methodRank(ops[j].Method)
	})
}

func methodRank(method string) int {
	for i, m := range catalogMethods {
		if m == method {
			return i
		}
	}
	return len(catalogMethods)
}
