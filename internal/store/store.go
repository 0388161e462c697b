// Package store persists document chunks and their embeddings in
// PostgreSQL with pgvector, and serves nearest-neighbor queries over them.
//
// The store holds raw vectors and cosine distances; similarity scoring and
// result shaping live in the retrieval layer.
package store

import (
	"context"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/docsrag/docsrag/internal/log"
)

// insertBatchSize bounds one pgx batch during Replace.
const insertBatchSize = 100

// Row is one chunk ready for insertion: text plus its embedding.
type Row struct {
	ID         string
	Source     string // relative path of the originating document
	Section    string
	ChunkIndex int
	Content    string
	Embedding  []float32
}

// Match is one nearest-neighbor query result.
type Match struct {
	ID         string
	Source     string
	Section    string
	ChunkIndex int
	Content    string
	Distance   float64 // cosine distance, 0 (identical) to 2 (opposite)
}

// Store is the pgvector-backed chunk index. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store on an existing connection pool. The pool's lifecycle
// is managed by the caller.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Replace atomically swaps the index content for rows. The previous index
// stays visible to concurrent readers until the transaction commits, and a
// failure at any point leaves it untouched.
func (s *Store) Replace(ctx context.Context, rows []Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `TRUNCATE chunks`); err != nil {
		return fmt.Errorf("clearing chunk index: %w", err)
	}

	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		if err := insertBatch(ctx, tx, rows[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing replace transaction: %w", err)
	}

	s.logger.Info("chunk index replaced", "chunks", len(rows))
	return nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, rows []Row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		vec := pgvector.NewVector(r.Embedding)
		batch.Queue(
			`INSERT INTO chunks (id, source, section, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.Source, r.Section, r.ChunkIndex, r.Content, vec,
		)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	for _, r := range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting chunk %q: %w", r.ID, err)
		}
	}
	return nil
}

// Query returns the limit nearest chunks to embedding, ordered by ascending
// cosine distance (<=> operator).
func (s *Store) Query(ctx context.Context, embedding []float32, limit int) ([]Match, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, section, chunk_index, content, embedding <=> $1 AS distance
		 FROM chunks
		 ORDER BY distance
		 LIMIT $2`,
		vec, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying chunk index: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Source, &m.Section, &m.ChunkIndex, &m.Content, &m.Distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading matches: %w", err)
	}
	return matches, nil
}

// Count returns the number of chunks in the index.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	// Overflow protection for 32-bit platforms.
	if count > math.MaxInt {
		return 0, fmt.Errorf("chunk count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}
