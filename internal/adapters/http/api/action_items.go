package api

import (
	"context"
	"net/http"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

type respondRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

// ActionItemHandler serves the confirmation state machine.
type ActionItemHandler struct {
	deps   CoordinationDependencies
	logger logger.Logger
}

// NewActionItemHandler creates a new action item handler.
func NewActionItemHandler(deps CoordinationDependencies, log logger.Logger) *ActionItemHandler {
	return &ActionItemHandler{deps: deps, logger: log}
}

// HandleGetStatus handles GET /action-items/{actionItemID}.
func (h *ActionItemHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.GetStatus(r.Context(), pathParam(r, "actionItemID"))
	if err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleInitiate handles POST /action-items/{actionItemID}/initiate.
func (h *ActionItemHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.deps.InitiateActionItem)
}

// HandleConfirm handles POST /action-items/{actionItemID}/confirm.
func (h *ActionItemHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.deps.Confirm)
}

// HandleDecline handles POST /action-items/{actionItemID}/decline.
func (h *ActionItemHandler) HandleDecline(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.deps.Decline)
}

func (h *ActionItemHandler) respond(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error),
) {
	var req respondRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	snap, err := op(r.Context(), pathParam(r, "actionItemID"), req.UserID)
	if err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
