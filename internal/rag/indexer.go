package rag

import (
	"context"
	"fmt"

	"github.com/docsrag/docsrag/internal/chunk"
	"github.com/docsrag/docsrag/internal/corpus"
	"github.com/docsrag/docsrag/internal/store"
)

// embedBatchSize bounds one embedding API call during ingestion.
const embedBatchSize = 100

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Documents int
	Chunks    int
}

// Ingest loads every markdown file under docsDir, chunks and embeds the
// content, and replaces the whole index with the result. The swap is
// atomic: a failure anywhere leaves the previous index intact, and queries
// against the old content keep working until the new one commits.
func (s *Service) Ingest(ctx context.Context, docsDir string) (IngestStats, error) {
	docs, err := corpus.Load(docsDir)
	if err != nil {
		return IngestStats{}, err
	}
	if len(docs) == 0 {
		return IngestStats{}, fmt.Errorf("no markdown files found in %q", docsDir)
	}

	var rows []store.Row
	for _, doc := range docs {
		chunks := chunk.Split(doc.Content, chunk.DefaultMaxChars)
		s.logger.Debug("chunked document", "source", doc.RelPath, "chunks", len(chunks))
		for i, c := range chunks {
			rows = append(rows, store.Row{
				ID:         corpus.ChunkID(doc.RelPath, i),
				Source:     doc.RelPath,
				Section:    c.Section,
				ChunkIndex: i,
				Content:    c.Text,
			})
		}
	}

	if err := s.embedRows(ctx, rows); err != nil {
		return IngestStats{}, err
	}

	if err := s.index.Replace(ctx, rows); err != nil {
		return IngestStats{}, err
	}

	stats := IngestStats{Documents: len(docs), Chunks: len(rows)}
	s.logger.Info("ingest_complete", "documents", stats.Documents, "chunks", stats.Chunks)
	return stats, nil
}

// embedRows fills in the Embedding field of every row, batching the
// provider calls.
func (s *Service) embedRows(ctx context.Context, rows []store.Row) error {
	for start := 0; start < len(rows); start += embedBatchSize {
		end := min(start+embedBatchSize, len(rows))
		batch := rows[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Content
		}

		var vectors [][]float32
		err := s.withRetry(ctx, "embed_chunks", func() error {
			var embedErr error
			vectors, embedErr = s.embedder.Embed(ctx, texts)
			return embedErr
		})
		if err != nil {
			return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding chunks %d-%d: got %d vectors, want %d", start, end-1, len(vectors), len(batch))
		}

		for i := range batch {
			batch[i].Embedding = vectors[i]
		}
	}
	return nil
}
