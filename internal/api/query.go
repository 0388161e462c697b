package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/docsrag/docsrag/internal/log"
	"github.com/docsrag/docsrag/internal/rag"
)

// indexEmptyDetail tells the operator how to populate the index.
const indexEmptyDetail = "No documents ingested yet. Run: docsrag ingest"

// queryRequest is the body of /retrieve, /query, /query/stream and
// /debug-query. TopK defaults when omitted; zero is not a valid value, so
// the pointer-free default trick works with a sentinel of 0.
type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type queryHandler struct {
	service QueryService
	logger  log.Logger
}

// decodeQuery parses and validates the common request body. A false return
// means the error response has been written.
func (h *queryHandler) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return req, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	if req.TopK == 0 {
		req.TopK = rag.DefaultTopK
	}
	return req, true
}

// writeServiceError maps orchestrator errors to HTTP responses.
func (h *queryHandler) writeServiceError(w http.ResponseWriter, err error, llmPhase bool) {
	switch {
	case errors.Is(err, rag.ErrInvalidTopK):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rag.ErrIndexEmpty):
		writeError(w, http.StatusServiceUnavailable, indexEmptyDetail)
	case llmPhase:
		h.logger.Error("llm_error", "error", err)
		writeError(w, http.StatusServiceUnavailable, "LLM request failed: "+err.Error())
	default:
		h.logger.Error("retrieval_error", "error", err)
		writeError(w, http.StatusInternalServerError, "Vector search failed: "+err.Error())
	}
}

type retrieveResponse struct {
	Results []rag.Result `json:"results"`
}

// retrieve returns the most similar chunks without invoking the LLM.
func (h *queryHandler) retrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	h.logger.Info("retrieve_request", "query", req.Query, "top_k", req.TopK)

	results, err := h.service.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	if results == nil {
		results = []rag.Result{}
	}
	writeJSON(w, http.StatusOK, retrieveResponse{Results: results})
}

// query retrieves relevant chunks and generates a grounded answer.
func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	h.logger.Info("query_request", "query", req.Query, "top_k", req.TopK)

	answer, err := h.service.Answer(r.Context(), req.Query, req.TopK)
	if err != nil {
		// Retrieval failures carry their own mapping; anything else that
		// escapes Answer happened at the LLM phase.
		llmPhase := !errors.Is(err, rag.ErrInvalidTopK) && !errors.Is(err, rag.ErrIndexEmpty)
		h.writeServiceError(w, err, llmPhase)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// debugChunk is one row of retrieval diagnostics.
type debugChunk struct {
	DocID      string  `json:"doc_id"`
	Section    string  `json:"section"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Preview    string  `json:"preview"`
}

type debugQueryResponse struct {
	Query   string       `json:"query"`
	Results []debugChunk `json:"results"`
}

// debugQuery returns retrieval diagnostics: section, chunk position, score,
// and a content preview per result.
func (h *queryHandler) debugQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeQuery(w, r)
	if !ok {
		return
	}
	h.logger.Info("debug_query_request", "query", req.Query, "top_k", req.TopK)

	results, err := h.service.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}

	debug := make([]debugChunk, len(results))
	for i, res := range results {
		debug[i] = debugChunk{
			DocID:      res.ID,
			Section:    res.Section,
			ChunkIndex: res.ChunkIndex,
			Score:      res.Score,
			Preview:    preview(res.Text, 200),
		}
	}
	writeJSON(w, http.StatusOK, debugQueryResponse{Query: req.Query, Results: debug})
}

// preview truncates s to at most n bytes without splitting a UTF-8 rune.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
