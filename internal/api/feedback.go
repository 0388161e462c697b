package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docsrag/docsrag/internal/feedback"
	"github.com/docsrag/docsrag/internal/log"
)

type feedbackRequest struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Rating  string `json:"rating"`
	Comment string `json:"comment"`
}

type feedbackHandler struct {
	recorder FeedbackRecorder
	logger   log.Logger
}

// submit records a thumbs-up or thumbs-down rating for an answer.
func (h *feedbackHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Query == "" || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "query and answer are required")
		return
	}

	if err := h.recorder.Record(r.Context(), req.Query, req.Answer, req.Rating, req.Comment); err != nil {
		if errors.Is(err, feedback.ErrInvalidRating) {
			writeError(w, http.StatusBadRequest, "rating must be 'up' or 'down'")
			return
		}
		h.logger.Error("feedback_store_error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to record feedback")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
