// Package corpus loads the markdown documentation tree that gets ingested
// into the vector index.
//
// Loading is fail-fast: any unreadable file aborts the whole load so a
// partially ingested corpus can never silently replace a complete one.
package corpus

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is one markdown file from the corpus root.
type Document struct {
	// RelPath is the path relative to the corpus root, using forward
	// slashes. It doubles as the stable source identifier in chunk IDs and
	// retrieval results.
	RelPath string

	// Content is the raw file content.
	Content string
}

// Load reads every .md file under root, recursively, ordered by relative
// path. Deterministic ordering keeps chunk IDs stable across re-ingestion
// runs on the same tree.
//
// A missing or unreadable root, or any unreadable file, fails the whole
// load.
func Load(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %q is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus root %q: %w", root, err)
	}

	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("relativizing %q: %w", path, err)
		}
		docs = append(docs, Document{
			RelPath: filepath.ToSlash(rel),
			Content: string(content),
		})
	}
	return docs, nil
}

// ChunkID returns the stable identifier for the i-th chunk of a document:
// "{relative path}::chunk{i}". Re-ingesting an unchanged tree reproduces
// the same IDs.
func ChunkID(relPath string, i int) string {
	return fmt.Sprintf("%s::chunk%d", relPath, i)
}
