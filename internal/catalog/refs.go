package catalog

import (
	"sort"
	"strings"
)

// maxRefDepth bounds how many $ref hops are followed for one value.
const maxRefDepth = 8

// refResolver follows local "#/components/<section>/<name>" references.
type refResolver struct {
	components map[string]map[string]any
}

func newRefResolver(doc *Document) refResolver {
	if doc == nil {
		return refResolver{}
	}
	return refResolver{components: doc.Components}
}

// resolve returns the object v refers to. Sibling keys of a $ref are
// ignored, as in OpenAPI 3.0. Remote, missing and cyclic references resolve
// to nothing.
func (r refResolver) resolve(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	seen := make(map[string]struct{})
	for depth := 0; depth < maxRefDepth; depth++ {
		ref, isRef := m["$ref"].(string)
		if !isRef {
			return m, true
		}
		if _, cyclic := seen[ref]; cyclic {
			return nil, false
		}
		seen[ref] = struct{}{}

		target, found := r.lookup(ref)
		if !found {
			return nil, false
		}
		m = target
	}
	return nil, false
}

func (r refResolver) lookup(ref string) (map[string]any, bool) {
	const prefix = "#/components/"
	if !strings.HasPrefix(ref, prefix) {
		return nil, false
	}
	section, name, ok := strings.Cut(strings.TrimPrefix(ref, prefix), "/")
	if !ok || strings.Contains(name, "/") {
		return nil, false
	}
	target, ok := r.components[section][unescapePointer(name)].(map[string]any)
	return target, ok
}

// unescapePointer decodes a JSON pointer token.
func unescapePointer(token string) string {
	return strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
}

// refName is the last segment of a $ref, such as "NotebookUpdateRequest".
func refName(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := m["$ref"].(string)
	if ref == "" {
		return ""
	}
	return unescapePointer(ref[strings.LastIndex(ref, "/")+1:])
}

// summarizeRequestBody flattens a requestBody into what an agent needs to
// build one: the media type, the schema name and its top-level fields.
func (r refResolver) summarizeRequestBody(raw any) *RequestBody {
	body, ok := r.resolve(raw)
	if !ok {
		if raw == nil {
			return nil
		}
		// The operation has a body we could not resolve.
		return &RequestBody{}
	}
	summary := &RequestBody{
		Required:    boolField(body, "required"),
		Description: stringField(body, "description"),
	}

	content, _ := body["content"].(map[string]any)
	summary.ContentType = preferredContentType(content)
	media, _ := content[summary.ContentType].(map[string]any)
	if media == nil {
		return summary
	}

	rawSchema := media["schema"]
	summary.Schema = refName(rawSchema)
	schema, ok := r.resolve(rawSchema)
	if !ok {
		return summary
	}
	if summary.Schema == "" {
		summary.Schema = stringField(schema, "type")
	}
	if items, isArray := schema["items"]; isArray && stringField(schema, "type") == "array" {
		if name := refName(items); name != "" {
			summary.Schema = "array of " + name
		}
	}
	summary.Properties = r.schemaProperties(schema)
	return summary
}

func (r refResolver) schemaProperties(schema map[string]any) []string {
	properties, _ := schema["properties"].(map[string]any)
	if len(properties) == 0 {
		return nil
	}
	required := make(map[string]struct{})
	for _, name := range stringList(schema["required"]) {
		required[name] = struct{}{}
	}
	names := make([]string, 0, len(properties))
	for name := range properties {
		if _, ok := required[name]; ok {
			names = append(names, name+"*")
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func preferredContentType(content map[string]any) string {
	if len(content) == 0 {
		return ""
	}
	if _, ok := content["application/json"]; ok {
		return "application/json"
	}
	types := make([]string, 0, len(content))
	for contentType := range content {
		types = append(types, contentType)
	}
	sort.Strings(types)
	return types[0]
}
