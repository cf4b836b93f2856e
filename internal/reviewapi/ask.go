package reviewapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lynN18he/reviewops/internal/rag"
)

// maxQuestionBytes bounds the /ask request body.
const maxQuestionBytes = 16 << 10

type askRequest struct {
	Question string `json:"question"`
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	if a.asker == nil {
		writeError(w, http.StatusServiceUnavailable, "manual assistant not configured")
		return
	}

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	ans, err := a.asker.Ask(r.Context(), req.Question)
	switch {
	case errors.Is(err, rag.ErrNoSearcher):
		writeError(w, http.StatusServiceUnavailable, "vector store not configured")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "manual question failed")
		writeError(w, http.StatusBadGateway, "answer unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ans)
}
