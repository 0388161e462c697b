package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docsrag/docsrag/internal/provider"
)

// systemPrompt instructs the model to answer only from the retrieved
// context. The fixed fallback sentence gives the frontend a stable string
// to detect unanswerable questions.
const systemPrompt = `You are an internal documentation assistant. Answer the user's question using ONLY the provided context below. Do not use any prior knowledge.

If the context does not contain enough information to answer the question, respond with: "I don't know based on the available documentation."

Be concise and direct. Cite the source document when possible.

Context:
%s`

// contextSeparator joins chunk blocks in the grounding context.
const contextSeparator = "\n\n---\n\n"

// Answer is a generated response with the chunks that grounded it.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Chunks  []Result `json:"chunks"`
}

// Answer retrieves the topK most relevant chunks and generates a completion
// grounded in them.
func (s *Service) Answer(ctx context.Context, query string, topK int) (*Answer, error) {
	results, err := s.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	messages := buildMessages(query, results)

	start := time.Now()
	var completion string
	err = s.withRetry(ctx, "chat_completion", func() error {
		var compErr error
		completion, compErr = s.completer.Complete(ctx, messages)
		return compErr
	})
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	sources := collectSources(results)
	s.logger.Info("llm_complete",
		"latency_ms", time.Since(start).Milliseconds(),
		"num_sources", len(sources))

	return &Answer{
		Answer:  completion,
		Sources: sources,
		Chunks:  results,
	}, nil
}

// buildMessages assembles the grounded chat request: the system prompt
// carries the context blocks, the user turn carries the raw question.
func buildMessages(query string, results []Result) []provider.Message {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source: %s]\n%s", r.Source, r.Text)
	}
	grounding := strings.Join(blocks, contextSeparator)

	return []provider.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, grounding)},
		{Role: "user", Content: query},
	}
}

// collectSources returns the distinct source documents in first-seen order,
// preserving the retrieval ranking.
func collectSources(results []Result) []string {
	seen := make(map[string]bool, len(results))
	sources := make([]string, 0, len(results))
	for _, r := range results {
		if !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
	}
	return sources
}
