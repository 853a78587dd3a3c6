package catalog

import (
	"sort"
	"strings"
	"unicode"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// SearchOptions narrows a search.
type SearchOptions struct {
	Method  string
	Product string
	Limit   int
}

// Result is one scored match.
type Result struct {
	Operation Operation `json:"operation"`
	Score     int       `json:"score"`
}

// Index is an immutable search index over a catalog. It is safe for
// concurrent use.
type Index struct {
	entries []indexEntry
}

type indexEntry struct {
	op          Operation
	path        map[string]struct{}
	operationID map[string]struct{}
	summary     map[string]struct{}
	tags        map[string]struct{}
	description map[string]struct{}
	fullPath    string
}

// NewIndex tokenizes every catalog operation once.
func NewIndex(c *Catalog) *Index {
	idx := &Index{}
	if c == nil {
		return idx
	}
	idx.entries = make([]indexEntry, 0, len(c.Operations))
	for _, op := range c.Operations {
		idx.entries = append(idx.entries, indexEntry{
			op:          op,
			path:        tokenSet(op.Path),
			operationID: tokenSet(splitCamel(op.OperationID)),
			summary:     tokenSet(op.Summary),
			tags:        tokenSet(strings.Join(op.Tags, " ")),
			description: tokenSet(op.Description),
			fullPath:    strings.ToLower(op.Path),
		})
	}
	return idx
}

// Len returns the number of indexed operations.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Search scores operations against the query words. An empty query lists
// every operation passing the filters in catalog order.
func (idx *Index) Search(query string, opts SearchOptions) []Result {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	product := strings.TrimSpace(opts.Product)
	terms := tokens(query)
	phrase := strings.ToLower(strings.TrimSpace(query))

	results := make([]Result, 0, limit)
	for _, entry := range idx.entries {
		if method != "" && entry.op.Method != method {
			continue
		}
		if product != "" && !strings.EqualFold(entry.op.Product, product) {
			continue
		}
		score := entry.score(terms, phrase)
		if len(terms) > 0 && score == 0 {
			continue
		}
		results = append(results, Result{Operation: entry.op, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Operation.Path != results[j].Operation.Path {
			return results[i].Operation.Path < results[j].Operation.Path
		}
		return methodRank(results[i].Operation.Method) < methodRank(results[j].Operation.Method)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (e indexEntry) score(terms []string, phrase string) int {
	score := 0
	for _, term := range terms {
		if _, ok := e.path[term]; ok {
			score += 3
		}
		if _, ok := e.operationID[term]; ok {
			score += 3
		}
		if _, ok := e.summary[term]; ok {
			score += 2
		}
		if _, ok := e.tags[term]; ok {
			score += 2
		}
		if _, ok := e.description[term]; ok {
			score++
		}
	}
	if score > 0 && strings.Contains(phrase, "/") && strings.Contains(e.fullPath, phrase) {
		score += 5
	}
	return score
}

func tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokens(text) {
		set[t] = struct{}{}
	}
	return set
}

// splitCamel turns "ListLogsGet" into "List Logs Get".
func splitCamel(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
