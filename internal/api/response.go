package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

// writeJSON writes a JSON response with the given status code.
// Buffer-first: headers go out only after encoding succeeds, so an encode
// failure can still produce a clean 500.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// A short write means the client went away; the logging middleware
	// already records status and byte counts for the request.
	_, _ = w.Write(buf.Bytes())
}

// errorResponse is the JSON error body: a single human-readable detail
// string, matching what the frontend already parses.
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
