package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

// maxDocumentBytes bounds the size of an upstream description.
const maxDocumentBytes = 64 << 20

// Document is the subset of an OpenAPI description the reducer reads. Path
// items stay generic so unknown keys survive untouched.
type Document struct {
	OpenAPI string `yaml:"openapi"`
	Info    struct {
		Title   string `yaml:"title"`
		Version string `yaml:"version"`
	} `yaml:"info"`
	Paths map[string]map[string]any `yaml:"paths"`
	// Components holds reusable objects by section ("parameters",
	// "requestBodies", "schemas") and name.
	Components map[string]map[string]any `yaml:"components"`
}

// Load decodes an OpenAPI description. YAML and JSON are both accepted.
func Load(r io.Reader) (*Document, error) {
	return loadLimited(r, maxDocumentBytes)
}

func loadLimited(r io.Reader, limit int64) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading API description: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("API description exceeds %d bytes", limit)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding API description: %w", err)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("API description has no paths")
	}
	return &doc, nil
}

// LoadDocumentFile reads an OpenAPI description from disk.
func LoadDocumentFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening API description: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Fetch downloads an OpenAPI description with a single GET.
func Fetch(ctx context.Context, client *http.Client, url string) (*Document, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}
	return Load(resp.Body)
}
