package catalog

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codemode-mcp/datadog-mcp/internal/apipolicy"
)

func mustLoad(t *testing.T, name string) *Document {
	t.Helper()
	doc, err := LoadDocumentFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return doc
}

func findOp(c *Catalog, method, path string) (Operation, bool) {
	for _, op := range c.Operations {
		if op.Method == method && op.Path == path {
			return op, true
		}
	}
	return Operation{}, false
}

func TestReduce_DropsDeniedOperations(t *testing.T) {
	doc := mustLoad(t, "openapi_v1.yaml")

	c, stats := Reduce(doc, "v1")
	kept, dropped := stats.Total()
	require.Equal(t, 7, kept)
	require.Equal(t, 2, dropped)
	require.Equal(t, 1, stats.Dropped["PUT"])
	require.Equal(t, 1, stats.Dropped["DELETE"])
	require.Equal(t, []string{"v1"}, c.Sources)

	_, ok := findOp(c, "PUT", "/api/v1/users/{user_handle}")
	require.False(t, ok)
	_, ok = findOp(c, "DELETE", "/api/v1/users/{user_handle}")
	require.False(t, ok)

	update, ok := findOp(c, "PUT", "/api/v1/notebooks/{notebook_id}")
	require.True(t, ok)
	require.Equal(t, string(apipolicy.ClassAllowlistedWrite), update.Class)
	require.True(t, update.HasBody)

	get, ok := findOp(c, "GET", "/api/v1/notebooks/{notebook_id}")
	require.True(t, ok)
	require.Equal(t, "Notebooks", get.Product)
	require.Equal(t, []Parameter{{
		Name:        "notebook_id",
		In:          "path",
		Required:    true,
		Description: "Unique ID, assigned when you create the notebook.",
	}}, get.Parameters)
}

func TestReduce_EveryKeptOperationPassesPolicy(t *testing.T) {
	for _, name := range []string{"openapi_v1.yaml", "openapi_v2.json"} {
		c, _ := Reduce(mustLoad(t, name), name)
		require.NotEmpty(t, c.Operations)
		for _, op := range c.Operations {
			require.True(t, apipolicy.AllowedAtCatalogTime(op.Method, op.Path), "%s %s", op.Method, op.Path)
		}
	}
}

func TestReduce_JSONDocumentAndSafePost(t *testing.T) {
	c, stats := Reduce(mustLoad(t, "openapi_v2.json"), "v2")
	kept, dropped := stats.Total()
	require.Equal(t, 4, kept)
	require.Equal(t, 2, dropped)

	search, ok := findOp(c, "POST", "/api/v2/logs/events/search")
	require.True(t, ok)
	require.Equal(t, string(apipolicy.ClassSafePost), search.Class)

	_, ok = findOp(c, "POST", "/api/v2/logs/events")
	require.False(t, ok)
}

func TestReduce_SortedByPathThenMethod(t *testing.T) {
	c, _ := Reduce(mustLoad(t, "openapi_v1.yaml"), "")
	for i := 1; i < len(c.Operations); i++ {
		prev, cur := c.Operations[i-1], c.Operations[i]
		if prev.Path == cur.Path {
			require.Less(t, methodRank(prev.Method), methodRank(cur.Method))
			continue
		}
		require.Less(t, prev.Path, cur.Path)
	}
}

func TestMergeAndRoundTrip(t *testing.T) {
	v1, _ := Reduce(mustLoad(t, "openapi_v1.yaml"), "v1")
	v2, _ := Reduce(mustLoad(t, "openapi_v2.json"), "v2")
	merged := Merge(v1, v2, v1)
	require.Equal(t, v1.Len()+v2.Len(), merged.Len())

	path := filepath.Join(t.TempDir(), "catalog.json")
	var buf bytes.Buffer
	require.NoError(t, merged.WriteJSON(&buf))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, merged.Operations, loaded.Operations)
}

func TestProducts(t *testing.T) {
	c, _ := Reduce(mustLoad(t, "openapi_v1.yaml"), "")
	products := Products(c)
	require.Equal(t, []Product{
		{Name: "Monitors", Operations: 1, Methods: []string{"GET"}},
		{Name: "Notebooks", Operations: 5, Methods: []string{"GET", "POST", "PUT", "DELETE"}},
		{Name: "Users", Operations: 1, Methods: []string{"GET"}},
	}, products)
}

func TestProductFor_FallsBackToPathSegment(t *testing.T) {
	require.Equal(t, "Logs", productFor("/api/v2/logs/events", []string{"Logs"}))
	require.Equal(t, "dashboard", productFor("/api/v1/dashboard/{dashboard_id}", nil))
	require.Equal(t, "internal", productFor("/internal/thing", nil))
	require.Equal(t, "other", productFor("/", nil))
}

func TestLoad_RejectsDocumentWithoutPaths(t *testing.T) {
	_, err := Load(bytes.NewBufferString("openapi: 3.0.0\ninfo: {title: x}\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no paths")
}

func TestFetch(t *testing.T) {
	body, err := os.ReadFile(filepath.Join("testdata", "openapi_v1.yaml"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.yaml" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	doc, err := Fetch(context.Background(), srv.Client(), srv.URL+"/v1.yaml")
	require.NoError(t, err)
	require.Equal(t, "Datadog API V1 Collection", doc.Info.Title)

	_, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 404")
}

func TestReduce_ResolvesComponentReferences(t *testing.T) {
	c, stats := Reduce(mustLoad(t, "openapi_refs.yaml"), "refs")
	kept, dropped := stats.Total()
	require.Equal(t, 6, kept)
	require.Equal(t, 1, dropped)

	list, ok := findOp(c, "GET", "/api/v1/dashboard")
	require.True(t, ok)
	// Cyclic and remote references are skipped.
	require.Equal(t, []Parameter{{
		Name:        "filter[shared]",
		In:          "query",
		Description: "When true, only shared custom created dashboards are returned.",
	}}, list.Parameters)

	get, ok := findOp(c, "GET", "/api/v1/dashboard/{dashboard_id}")
	require.True(t, ok)
	require.Equal(t, []Parameter{{Name: "dashboard_id", In: "path", Required: true, Description: "The ID of the dashboard."}}, get.Parameters)

	update, ok := findOp(c, "PUT", "/api/v1/dashboard/{dashboard_id}")
	require.True(t, ok)
	require.True(t, update.HasBody)
	require.Equal(t, &RequestBody{
		Required:    true,
		Description: "Dashboard request object.",
		ContentType: "application/json",
		Schema:      "Dashboard",
		Properties:  []string{"description", "layout_type*", "tags", "title*", "widgets*"},
	}, update.RequestBody)
	require.Len(t, update.Parameters, 1)

	event, ok := findOp(c, "POST", "/api/v1/events")
	require.True(t, ok)
	require.Equal(t, &RequestBody{
		Required:    true,
		ContentType: "application/json",
		Schema:      "EventCreateRequest",
		Properties:  []string{"priority", "text*", "title*"},
	}, event.RequestBody)

	series, ok := findOp(c, "POST", "/api/v2/series")
	require.True(t, ok)
	require.Equal(t, &RequestBody{ContentType: "text/json", Schema: "array of MetricSeries"}, series.RequestBody)
}

func TestLoad_RejectsOversizedDocument(t *testing.T) {
	doc := []byte("openapi: 3.0.0\npaths:\n  /api/v1/monitor:\n    get: {}\n")

	_, err := loadLimited(bytes.NewReader(doc), int64(len(doc)))
	require.NoError(t, err)

	_, err = loadLimited(bytes.NewReader(doc), int64(len(doc)-1))
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds")
}
