package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"chunkforge/internal/ingestclient"
)

// LoadSchemaFiles returns, for every non-template "*.json" file directly
// under dir, the table name (its base name without extension) and raw
// schema contents. A "template" in the filename excludes it, matching
// spec.md §4.F's "register every non-template *.json schema file".
func LoadSchemaFiles(dir string) (map[string]json.RawMessage, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("coordinator: glob schema dir %s: %w", dir, err)
	}
	out := make(map[string]json.RawMessage, len(matches))
	for _, m := range matches {
		if strings.Contains(strings.ToLower(m), "template") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, m))
		if err != nil {
			return nil, fmt.Errorf("coordinator: read schema %s: %w", m, err)
		}
		table := strings.TrimSuffix(filepath.Base(m), ".json")
		out[table] = json.RawMessage(raw)
	}
	return out, nil
}

// RegisterSchemas registers dbConfig and every schema in schemas with
// the ingest service. Table names are sorted before registration so
// startup order is deterministic.
func RegisterSchemas(ctx context.Context, client *ingestclient.Client, dbConfig json.RawMessage, schemas map[string]json.RawMessage) ([]string, error) {
	if err := client.RegisterDatabase(ctx, dbConfig); err != nil {
		return nil, fmt.Errorf("coordinator: register database: %w", err)
	}
	tables := make([]string, 0, len(schemas))
	for table := range schemas {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		if err := client.RegisterTable(ctx, schemas[table]); err != nil {
			return nil, fmt.Errorf("coordinator: register table %s: %w", table, err)
		}
	}
	return tables, nil
}

// LoadFileBundle reads every regular file directly under dir into a
// FileEntry, sorted by filename, forming a deterministic {index ->
// (filename, contents)} sequence to serve to workers. An empty dir
// yields an empty bundle.
func LoadFileBundle(dir string) ([]FileEntry, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read bundle dir %s: %w", dir, err)
	}
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("coordinator: read bundle file %s: %w", e.Name(), err)
		}
		out = append(out, FileEntry{Filename: e.Name(), Contents: string(raw)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}
