// Package rag orchestrates retrieval-augmented generation: embedding
// queries, finding relevant chunks in the vector index, and grounding model
// completions in them.
//
// The service makes no HTTP decisions. It returns sentinel errors
// (ErrIndexEmpty, ErrInvalidTopK) and classified provider errors; the api
// package maps those to status codes.
package rag

import (
	"context"
	"errors"
	"time"

	"github.com/docsrag/docsrag/internal/log"
	"github.com/docsrag/docsrag/internal/provider"
	"github.com/docsrag/docsrag/internal/store"
)

var (
	// ErrIndexEmpty indicates no documents have been ingested yet.
	ErrIndexEmpty = errors.New("no documents in index")

	// ErrInvalidTopK indicates a top_k outside the allowed range.
	ErrInvalidTopK = errors.New("invalid top_k")
)

const (
	// DefaultTopK is the result count used when the caller does not ask for
	// a specific one.
	DefaultTopK = 5

	// MinTopK and MaxTopK bound the requested result count. The cap keeps a
	// single query from dragging the whole index into the prompt.
	MinTopK = 1
	MaxTopK = 20
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenStream yields completion token deltas until io.EOF.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Completer generates chat completions, whole or streamed.
type Completer interface {
	Complete(ctx context.Context, messages []provider.Message) (string, error)
	CompleteStream(ctx context.Context, messages []provider.Message) (TokenStream, error)
}

// Index is the chunk store the service retrieves from and the indexer
// writes to.
type Index interface {
	Replace(ctx context.Context, rows []store.Row) error
	Query(ctx context.Context, embedding []float32, limit int) ([]store.Match, error)
	Count(ctx context.Context) (int, error)
}

// RetryConfig controls the backoff loop around transient provider failures.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff: attempt n waits
	// BaseDelay * 2^(n-1) plus up to half a second of jitter.
	BaseDelay time.Duration
}

// Service is the RAG orchestrator. Safe for concurrent use.
type Service struct {
	embedder  Embedder
	completer Completer
	index     Index
	retry     RetryConfig
	logger    log.Logger
}

// New creates a Service. A non-positive MaxAttempts is treated as 1.
func New(embedder Embedder, completer Completer, index Index, retry RetryConfig, logger log.Logger) *Service {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Service{
		embedder:  embedder,
		completer: completer,
		index:     index,
		retry:     retry,
		logger:    logger,
	}
}

// ClientAdapter lifts *provider.Client to the Completer interface; the
// concrete *provider.Stream return type keeps the client package free of
// this package's abstractions.
type ClientAdapter struct {
	*provider.Client
}

// CompleteStream re-types the client's concrete stream as a TokenStream.
func (a ClientAdapter) CompleteStream(ctx context.Context, messages []provider.Message) (TokenStream, error) {
	s, err := a.Client.CompleteStream(ctx, messages)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AdaptClient wraps a provider client for use as both Embedder and
// Completer.
func AdaptClient(c *provider.Client) ClientAdapter {
	return ClientAdapter{c}
}
