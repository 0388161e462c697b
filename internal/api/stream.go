package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/docsrag/docsrag/internal/rag"
)

// SSE event names, mirrored by the frontend EventSource handlers.
const (
	sseMetadata = "metadata"
	sseToken    = "token"
	sseDone     = "done"
	sseError    = "error"
)

type metadataPayload struct {
	Sources []string     `json:"sources"`
	Chunks  []rag.Result `json:"chunks"`
}

type tokenPayload struct {
	Text string `json:"text"`
}

// stream runs a grounded query and relays it as Server-Sent Events:
// metadata, then tokens, then exactly one of done or error.
func (h *queryHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	h.logger.Info("stream_request", "query", req.Query, "top_k", req.TopK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	events, err := h.service.Stream(r.Context(), req.Query, req.TopK)
	if err != nil {
		if errors.Is(err, rag.ErrInvalidTopK) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeServiceError(w, err, true)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		var writeErr error
		switch ev.Type {
		case rag.EventMetadata:
			chunks := ev.Chunks
			if chunks == nil {
				chunks = []rag.Result{}
			}
			writeErr = writeEvent(w, flusher, sseMetadata, metadataPayload{Sources: ev.Sources, Chunks: chunks})
		case rag.EventToken:
			writeErr = writeEvent(w, flusher, sseToken, tokenPayload{Text: ev.Token})
		case rag.EventDone:
			writeErr = writeEvent(w, flusher, sseDone, struct{}{})
		case rag.EventError:
			writeErr = writeEvent(w, flusher, sseError, errorResponse{Detail: ev.Message})
		}
		if writeErr != nil {
			// Write failure usually means the client went away; the service
			// goroutine winds down via the request context.
			h.logger.Debug("sse write failed", "error", writeErr)
			return
		}
	}
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
