package catalog

import (
	"sort"
	"strings"
)

// Product groups catalog operations by Datadog product area.
type Product struct {
	Name       string   `json:"name"`
	Operations int      `json:"operations"`
	Methods    []string `json:"methods"`
}

// Products lists product areas with operation counts, sorted by name.
func Products(c *Catalog) []Product {
	if c == nil {
		return nil
	}
	byName := make(map[string]*Product)
	methods := make(map[string]map[string]struct{})
	for _, op := range c.Operations {
		p, ok := byName[op.Product]
		if !ok {
			p = &Product{Name: op.Product}
			byName[op.Product] = p
			methods[op.Product] = make(map[string]struct{})
		}
		p.Operations++
		methods[op.Product][op.Method] = struct{}{}
	}

	out := make([]Product, 0, len(byName))
	for name, p := range byName {
		for method := range methods[name] {
			p.Methods = append(p.Methods, method)
		}
		sort.Slice(p.Methods, func(i, j int) bool {
			return methodRank(p.Methods[i]) < methodRank(p.Methods[j])
		})
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// productFor names the product for a path: the first tag, otherwise the first
// segment after /api/vN/.
func productFor(path string, tags []string) string {
	if len(tags) > 0 {
		return tags[0]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && strings.HasPrefix(segments[1], "v") {
		return segments[2]
	}
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "other"
}
