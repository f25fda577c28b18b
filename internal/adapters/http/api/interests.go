package api

import (
	"net/http"
	"strings"

	"github.com/okian/rally/pkg/logger"
)

// IdempotencyKeyHeader carries the client's replay key for a toggle.
const IdempotencyKeyHeader = "Idempotency-Key"

// InterestHandler handles interest toggles.
type InterestHandler struct {
	deps   CoordinationDependencies
	logger logger.Logger
}

// NewInterestHandler creates a new interest handler.
func NewInterestHandler(deps CoordinationDependencies, log logger.Logger) *InterestHandler {
	return &InterestHandler{deps: deps, logger: log}
}

// HandleToggle handles POST /users/{userID}/interests/{venueID}/toggle.
func (h *InterestHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	venueID := pathParam(r, "venueID")
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	res, err := h.deps.ToggleInterestOnce(r.Context(), key, userID, venueID)
	if err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
