// Package provider is the HTTP client for OpenAI-compatible model APIs:
// embeddings, chat completions, and streamed chat completions.
//
// Failures are classified into transient and fatal kinds (see errors.go);
// the retry loop lives with the caller, not here. The client itself makes
// exactly one attempt per call so the orchestrator owns the backoff
// schedule.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docsrag/docsrag/internal/log"
)

// requestTimeout bounds a single provider round trip. Streamed completions
// are exempt: tokens can legitimately flow for longer than any fixed bound.
const requestTimeout = 30 * time.Second

// completionTemperature keeps answers close to the retrieved context.
const completionTemperature = 0.1

// Config holds the provider connection settings.
type Config struct {
	APIKey          string
	BaseURL         string // e.g. https://api.openai.com/v1, no trailing slash
	EmbeddingModel  string
	CompletionModel string
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

// New creates a provider client. The next-proto guard in http.Client is left
// at its defaults; only the timeout is set.
func New(cfg Config, logger log.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

// Message is one chat turn sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	err := c.postJSON(ctx, "/embeddings", embeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: texts,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, &Error{
			Kind:    KindOther,
			Message: fmt.Sprintf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data)),
		}
	}

	// The API documents but does not guarantee input ordering; honor the
	// index field.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &Error{
				Kind:    KindOther,
				Message: fmt.Sprintf("embedding index %d out of range", d.Index),
			}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Complete returns the full completion for the given messages.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	var resp chatResponse
	err := c.postJSON(ctx, "/chat/completions", chatRequest{
		Model:       c.cfg.CompletionModel,
		Messages:    messages,
		Temperature: completionTemperature,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindOther, Message: "completion returned no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// postJSON does one non-streaming round trip, classifying every failure.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	resp, err := c.post(ctx, path, body, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindOther, Message: "decoding response: " + err.Error(), cause: err}
	}
	return nil
}

// post sends the request and maps HTTP errors to classified provider
// errors. On success the caller owns resp.Body.
func (c *Client) post(ctx context.Context, path string, body any, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindFatal, Message: "encoding request: " + err.Error(), cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindFatal, Message: "building request: " + err.Error(), cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	client := c.client
	if stream {
		// Per-request timeout would cut long generations short; rely on ctx.
		client = &http.Client{Transport: c.client.Transport}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		perr := statusError(resp.StatusCode, string(bytes.TrimSpace(snippet)))
		c.logger.Debug("provider request failed",
			"path", path,
			"status", resp.StatusCode,
			"kind", perr.Kind.String())
		return nil, perr
	}
	return resp, nil
}
