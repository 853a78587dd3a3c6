package tools

import (
	"context"
	"strings"

	"github.com/codemode-mcp/datadog-mcp/internal/catalog"
)

const maxSearchLimit = 50

func (r *Runner) search(_ context.Context, args map[string]any) (map[string]any, error) {
	var req struct {
		Query   string `json:"query"`
		Method  string `json:"method"`
		Product string `json:"product"`
		Limit   int    `json:"limit"`
	}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	if req.Limit < 0 || req.Limit > maxSearchLimit {
		return nil, validationErrorf("limit must be between 0 and %d", maxSearchLimit)
	}

	results := r.index.Search(strings.TrimSpace(req.Query), catalog.SearchOptions{
		Method:  req.Method,
		Product: req.Product,
		Limit:   req.Limit,
	})
	return toMap(struct {
		Query           string           `json:"query"`
		Count           int              `json:"count"`
		TotalOperations int              `json:"total_operations"`
		Results         []catalog.Result `json:"results"`
	}{
		Query:           strings.TrimSpace(req.Query),
		Count:           len(results),
		TotalOperations: r.index.Len(),
		Results:         results,
	})
}

func (r *Runner) listProducts(_ context.Context, args map[string]any) (map[string]any, error) {
	var req struct{}
	if err := decodeArgsStrict(args, &req); err != nil {
		return nil, err
	}
	return toMap(struct {
		Count           int               `json:"count"`
		TotalOperations int               `json:"total_operations"`
		Products        []catalog.Product `json:"products"`
	}{
		Count:           len(r.products),
		TotalOperations: r.index.Len(),
		Products:        r.products,
	})
}
