package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// Stream is an in-flight streamed completion. Recv returns token deltas
// until io.EOF; any other error means the stream broke mid-generation.
// Close must be called exactly once, Recv errors included.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// CompleteStream starts a streamed completion. The returned stream stays
// open until the provider sends its end-of-stream marker or ctx is
// cancelled.
func (c *Client) CompleteStream(ctx context.Context, messages []Message) (*Stream, error) {
	resp, err := c.post(ctx, "/chat/completions", chatRequest{
		Model:       c.cfg.CompletionModel,
		Messages:    messages,
		Temperature: completionTemperature,
		Stream:      true,
	}, true)
	if err != nil {
		return nil, err
	}
	return &Stream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// Recv returns the next non-empty token delta. io.EOF signals a clean end
// of stream ([DONE] marker or natural close); any other error signals a
// broken stream.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if err == io.EOF {
				return "", io.EOF
			}
			return "", transportError(err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keep-alive or vendor extension lines.
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
}

// Close releases the underlying connection. Safe after Recv returned an
// error.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
