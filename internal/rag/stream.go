package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// EventType discriminates streamed query events.
type EventType string

const (
	// EventMetadata carries sources and chunks, emitted once before tokens.
	EventMetadata EventType = "metadata"

	// EventToken carries one completion token delta.
	EventToken EventType = "token"

	// EventDone terminates a successful stream.
	EventDone EventType = "done"

	// EventError terminates a failed stream. Emitted at most once, instead
	// of (never after) done.
	EventError EventType = "error"
)

// Event is one element of a streamed query. Exactly one terminal event
// (done or error) ends every stream, after which the channel closes.
type Event struct {
	Type    EventType
	Sources []string // metadata only
	Chunks  []Result // metadata only
	Token   string   // token only
	Message string   // error only
}

// Stream runs a streamed grounded query. It validates topK up front and
// returns every later failure in-band as an error event, because by the
// time retrieval or generation fails the HTTP response may already be
// committed.
//
// Event order: metadata, zero or more tokens, then exactly one of done or
// error. An error before retrieval completes skips metadata entirely. The
// channel closes after the terminal event; cancelling ctx tears the stream
// down.
func (s *Service) Stream(ctx context.Context, query string, topK int) (<-chan Event, error) {
	if topK < MinTopK || topK > MaxTopK {
		return nil, fmt.Errorf("%w: must be between %d and %d, got %d", ErrInvalidTopK, MinTopK, MaxTopK, topK)
	}

	events := make(chan Event)
	go s.runStream(ctx, query, topK, events)
	return events, nil
}

func (s *Service) runStream(ctx context.Context, query string, topK int, events chan<- Event) {
	defer close(events)

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	results, err := s.Retrieve(ctx, query, topK)
	if err != nil {
		if errors.Is(err, ErrIndexEmpty) {
			send(Event{Type: EventError, Message: "No documents ingested yet. Run: docsrag ingest"})
		} else {
			send(Event{Type: EventError, Message: "Vector search failed: " + err.Error()})
		}
		return
	}

	sources := collectSources(results)
	if !send(Event{Type: EventMetadata, Sources: sources, Chunks: results}) {
		return
	}

	messages := buildMessages(query, results)

	start := time.Now()
	var stream TokenStream
	err = s.withRetry(ctx, "chat_completion_stream", func() error {
		var streamErr error
		stream, streamErr = s.completer.CompleteStream(ctx, messages)
		return streamErr
	})
	if err != nil {
		send(Event{Type: EventError, Message: "LLM request failed: " + err.Error()})
		return
	}
	defer stream.Close() //nolint:errcheck

	for {
		token, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream break: tokens already sent stand, the error event
			// tells the client the answer is truncated.
			send(Event{Type: EventError, Message: "LLM request failed: " + err.Error()})
			return
		}
		if !send(Event{Type: EventToken, Token: token}) {
			return
		}
	}

	s.logger.Info("stream_llm_complete",
		"latency_ms", time.Since(start).Milliseconds(),
		"num_sources", len(sources))

	send(Event{Type: EventDone})
}
