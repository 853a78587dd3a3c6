package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/codemode-mcp/datadog-mcp/internal/catalog"
)

var (
	catalogInputs []string
	catalogURLs   []string
	catalogOut    string
	catalogPath   string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Build and inspect the operation catalog",
}

var catalogBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Reduce Datadog OpenAPI documents to the policy-filtered catalog",
	Long: "Reads OpenAPI documents from files (--in) or URLs (--url), drops every " +
		"operation the API policy denies, and writes the merged catalog as JSON.",
	RunE: runCatalogBuild,
}

var catalogProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "List product areas in a built catalog",
	RunE:  runCatalogProducts,
}

func init() {
	catalogBuildCmd.Flags().StringSliceVar(&catalogInputs, "in", nil, "OpenAPI document file (YAML or JSON); repeatable")
	catalogBuildCmd.Flags().StringSliceVar(&catalogURLs, "url", nil, "OpenAPI document URL; repeatable")
	catalogBuildCmd.Flags().StringVar(&catalogOut, "out", "catalog.json", "output path, or - for stdout")

	catalogProductsCmd.Flags().StringVar(&catalogPath, "catalog", "catalog.json", "catalog JSON path")

	catalogCmd.AddCommand(catalogBuildCmd)
	catalogCmd.AddCommand(catalogProductsCmd)
}

func runCatalogBuild(cmd *cobra.Command, _ []string) error {
	if len(catalogInputs) == 0 && len(catalogURLs) == 0 {
		return errors.New("at least one --in or --url is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	merged, stats, err := buildCatalog(ctx, &http.Client{Timeout: time.Minute}, catalogInputs, catalogURLs)
	if err != nil {
		return err
	}

	if catalogOut == "-" {
		if err := merged.WriteJSON(cmd.OutOrStdout()); err != nil {
			return fmt.Errorf("writing catalog: %w", err)
		}
	} else if err := writeCatalogFile(catalogOut, merged); err != nil {
		return err
	}

	kept, dropped := stats.Total()
	fmt.Fprintf(cmd.ErrOrStderr(), "catalog: kept %d operations, dropped %d\n", kept, dropped)
	for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE"} {
		if stats.Kept[method] == 0 && stats.Dropped[method] == 0 {
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "  %-6s kept %d, dropped %d\n", method, stats.Kept[method], stats.Dropped[method])
	}
	return nil
}

// writeCatalogFile writes c to path. A failed close is a failed write.
func writeCatalogFile(path string, c *catalog.Catalog) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, closeErr)
		}
	}()
	if err := c.WriteJSON(f); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// buildCatalog reduces every input document and merges the results in
// argument order, files first.
func buildCatalog(ctx context.Context, client *http.Client, files, urls []string) (*catalog.Catalog, catalog.Stats, error) {
	total := catalog.Stats{Kept: map[string]int{}, Dropped: map[string]int{}}
	parts := make([]*catalog.Catalog, 0, len(files)+len(urls))

	add := func(doc *catalog.Document, source string) {
		reduced, stats := catalog.Reduce(doc, source)
		for method, n := range stats.Kept {
			total.Kept[method] += n
		}
		for method, n := range stats.Dropped {
			total.Dropped[method] += n
		}
		parts = append(parts, reduced)
	}

	for _, path := range files {
		doc, err := catalog.LoadDocumentFile(path)
		if err != nil {
			return nil, total, fmt.Errorf("loading %s: %w", path, err)
		}
		add(doc, filepath.Base(path))
	}
	for _, url := range urls {
		doc, err := catalog.Fetch(ctx, client, url)
		if err != nil {
			return nil, total, fmt.Errorf("fetching %s: %w", url, err)
		}
		add(doc, url)
	}
	return catalog.Merge(parts...), total, nil
}

func runCatalogProducts(cmd *cobra.Command, _ []string) error {
	cat, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"total_operations": cat.Len(),
		"products":         catalog.Products(cat),
	})
}
