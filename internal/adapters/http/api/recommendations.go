package api

import (
	"net/http"
	"strconv"

	"github.com/okian/rally/pkg/logger"
)

// RecommendationsHandler serves ranked venues.
type RecommendationsHandler struct {
	deps   RecommendationDependencies
	logger logger.Logger
}

// NewRecommendationsHandler creates a new recommendations handler.
func NewRecommendationsHandler(deps RecommendationDependencies, log logger.Logger) *RecommendationsHandler {
	return &RecommendationsHandler{deps: deps, logger: log}
}

// HandleGetRecommendations handles GET /users/{userID}/recommendations?limit=N.
func (h *RecommendationsHandler) HandleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		limit = n
	}

	recs, err := h.deps.GetRecommendations(r.Context(), pathParam(r, "userID"), limit)
	if err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
