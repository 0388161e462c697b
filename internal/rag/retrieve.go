package rag

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Result is one retrieved chunk with its similarity score.
type Result struct {
	// ID is the chunk identifier, "{source}::chunk{n}".
	ID string `json:"doc_id"`

	// Source is the relative path of the originating document.
	Source string `json:"-"`

	// Section is the heading the chunk came from.
	Section string `json:"-"`

	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int `json:"-"`

	// Score is similarity in [−1, 1]: 1 − cosine distance, rounded to four
	// decimal places.
	Score float64 `json:"score"`

	// Text is the chunk content.
	Text string `json:"text"`
}

// Retrieve embeds the query and returns the topK most similar chunks,
// highest score first.
//
// Returns ErrInvalidTopK when topK is outside [MinTopK, MaxTopK],
// ErrIndexEmpty when nothing has been ingested. topK is silently capped at
// the index size.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK < MinTopK || topK > MaxTopK {
		return nil, fmt.Errorf("%w: must be between %d and %d, got %d", ErrInvalidTopK, MinTopK, MaxTopK, topK)
	}

	count, err := s.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting indexed chunks: %w", err)
	}
	if count == 0 {
		return nil, ErrIndexEmpty
	}
	if topK > count {
		topK = count
	}

	start := time.Now()

	var vectors [][]float32
	err = s.withRetry(ctx, "embed_query", func() error {
		var embedErr error
		vectors, embedErr = s.embedder.Embed(ctx, []string{query})
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors, want 1", len(vectors))
	}

	matches, err := s.index.Query(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			ID:         m.ID,
			Source:     m.Source,
			Section:    m.Section,
			ChunkIndex: m.ChunkIndex,
			Score:      roundScore(1 - m.Distance),
			Text:       m.Content,
		}
	}

	attrs := []any{
		"num_results", len(results),
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if len(results) > 0 {
		attrs = append(attrs, "top_score", results[0].Score)
	}
	s.logger.Info("retrieval_complete", attrs...)

	return results, nil
}

// roundScore rounds a similarity score to four decimal places.
func roundScore(x float64) float64 {
	return math.Round(x*10000) / 10000
}
