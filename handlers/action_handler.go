package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"placeQuestAPI/internal/definition"
	"placeQuestAPI/services"
)

// ActionHandler is the service-to-service surface other backends call when
// a user does something worth scoring. It sits behind the internal auth
// middleware, not Clerk.
type ActionHandler struct {
	actionService *services.ActionService
}

func NewActionHandler(actionService *services.ActionService) *ActionHandler {
	return &ActionHandler{actionService: actionService}
}

type recordActionRequest struct {
	UserID  uuid.UUID        `json:"user_id"`
	Action  string           `json:"action"`
	Payload services.Payload `json:"payload"`
}

func (h *ActionHandler) RecordAction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req recordActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	tag := definition.ActionTag(req.Action)
	if !definition.KnownAction(tag) {
		respondWithError(w, http.StatusBadRequest, "Unknown action")
		return
	}

	result, err := h.actionService.RecordAction(ctx, req.UserID, tag, req.Payload)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Action recorded", result)
}
