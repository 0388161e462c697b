// Package api exposes the documentation assistant over HTTP: retrieval,
// grounded queries (whole and streamed), feedback capture, and raw document
// access.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/docsrag/docsrag/internal/log"
	"github.com/docsrag/docsrag/internal/rag"
)

// QueryService is the slice of the RAG orchestrator the handlers need.
type QueryService interface {
	Retrieve(ctx context.Context, query string, topK int) ([]rag.Result, error)
	Answer(ctx context.Context, query string, topK int) (*rag.Answer, error)
	Stream(ctx context.Context, query string, topK int) (<-chan rag.Event, error)
}

// FeedbackRecorder persists answer ratings.
type FeedbackRecorder interface {
	Record(ctx context.Context, query, answer, rating, comment string) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Service     QueryService     // Required
	Feedback    FeedbackRecorder // Required
	DocsDir     string           // Directory served by the /api/docs endpoints
	CORSOrigins []string         // Allowed origins for CORS
	TrustProxy  bool             // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a server with all routes configured.
//
// Rate limits are per-IP and per-route: retrieval gets 30 requests per
// minute, each endpoint that hits the completion model gets its own 10.
// The docs and debug endpoints are unlimited.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("query service is required")
	}
	if cfg.Feedback == nil {
		return nil, errors.New("feedback recorder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	qh := &queryHandler{service: cfg.Service, logger: logger}
	fh := &feedbackHandler{recorder: cfg.Feedback, logger: logger}
	dh := &docsHandler{root: cfg.DocsDir, logger: logger}

	// 30/min for plain retrieval, 10/min for anything involving the LLM.
	// Each route carries its own limiter so budgets are keyed by client
	// address AND route: heavy feedback traffic must not starve queries.
	limit := func(perMinute float64, burst int, h http.HandlerFunc) http.Handler {
		rl := newRateLimiter(perMinute/60.0, burst)
		return rateLimitMiddleware(rl, cfg.TrustProxy, logger)(h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /retrieve", limit(30, 30, qh.retrieve))
	mux.Handle("POST /query", limit(10, 10, qh.query))
	mux.Handle("POST /query/stream", limit(10, 10, qh.stream))
	mux.Handle("POST /feedback", limit(10, 10, fh.submit))
	mux.HandleFunc("POST /debug-query", qh.debugQuery)
	mux.HandleFunc("GET /api/docs", dh.list)
	mux.HandleFunc("GET /api/docs/{filename}", dh.get)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → Routes
	// RequestID sits before Logging so request_id appears in log attributes.
	// CORS sits after Logging so preflights are still visible in logs.
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health stays outside the middleware stack: probes should never be
	// rate limited or logged per hit.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
