package catalog

import (
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

// catalogMethods are the verbs considered when reducing. HEAD has no
// catalog representation.
var catalogMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// Stats counts kept and dropped operations per method.
type Stats struct {
	Kept    map[string]int
	Dropped map[string]int
}

// Total returns kept and dropped totals.
func (s Stats) Total() (kept, dropped int) {
	for _, n := range s.Kept {
		kept += n
	}
	for _, n := range s.Dropped {
		dropped += n
	}
	return kept, dropped
}

// Reduce keeps only operations the API policy admits at catalog time and
// flattens them. Denied operations are dropped whole.
func Reduce(doc *Document, source string) (*Catalog, Stats) {
	stats := Stats{Kept: map[string]int{}, Dropped: map[string]int{}}
	out := &Catalog{}
	if source != "" {
		out.Sources = []string{source}
	}
	if doc == nil {
		return out, stats
	}

	refs := newRefResolver(doc)
	for path, item := range doc.Paths {
		if item == nil {
			continue
		}
		shared := refs.parseParameters(item["parameters"])

		for _, method := range catalogMethods {
			raw, ok := item[strings.ToLower(method)]
			if !ok {
				continue
			}
			op, ok := raw.(map[string]any)
			if !ok {
				continue
			}

			class := apipolicy.ClassifyAtCatalogTime(method, path)
			if class == apipolicy.ClassDenied {
				stats.Dropped[method]++
				continue
			}
			stats.Kept[method]++
			out.Operations = append(out.Operations, refs.flatten(method, path, op, shared, class))
		}
	}

	sortOperations(out.Operations)
	return out, stats
}

func (r refResolver) flatten(method, path string, op map[string]any, shared []Parameter, class apipolicy.Class) Operation {
	tags := stringList(op["tags"])
	flat := Operation{
		Method:      method,
		Path:        path,
		OperationID: stringField(op, "operationId"),
		Summary:     stringField(op, "summary"),
		Description: stringField(op, "description"),
		Tags:        tags,
		Parameters:  mergeParameters(shared, r.parseParameters(op["parameters"])),
		Deprecated:  boolField(op, "deprecated"),
		Class:       string(class),
	}
	if raw, ok := op["requestBody"]; ok {
		flat.HasBody = true
		flat.RequestBody = r.summarizeRequestBody(raw)
	}
	flat.Product = productFor(path, tags)
	return flat
}

func (r refResolver) parseParameters(raw any) []Parameter {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	params := make([]Parameter, 0, len(items))
	for _, item := range items {
		m, ok := r.resolve(item)
		if !ok {
			continue
		}
		name := stringField(m, "name")
		if name == "" {
			continue
		}
		params = append(params, Parameter{
			Name:        name,
			In:          stringField(m, "in"),
			Required:    boolField(m, "required"),
			Description: stringField(m, "description"),
		})
	}
	return params
}

// mergeParameters lets operation parameters override path-level ones with the
// same name and location.
func mergeParameters(shared, own []Parameter) []Parameter {
	if len(shared) == 0 {
		return own
	}
	out := make([]Parameter, 0, len(shared)+len(own))
	overridden := make(map[string]struct{}, len(own))
	for _, p := range own {
		overridden[p.In+":"+p.Name] = struct{}{}
	}
	for _, p := range shared {
		if _, ok := overridden[p.In+":"+p.Name]; ok {
			continue
		}
		out = append(out, p)
	}
	return append(out, own...)
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringList(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
