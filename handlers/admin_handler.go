package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"placeQuestAPI/services"
)

// AdminHandler covers the operator surface: manual grants, the leaderboard
// maintenance jobs, and audit inspection. All routes sit behind basic auth.
type AdminHandler struct {
	grantService       *services.GrantService
	leaderboardService *services.LeaderboardService
	auditService       *services.AuditService
}

func NewAdminHandler(grantService *services.GrantService, leaderboardService *services.LeaderboardService, auditService *services.AuditService) *AdminHandler {
	return &AdminHandler{
		grantService:       grantService,
		leaderboardService: leaderboardService,
		auditService:       auditService,
	}
}

// actor names the operator in the audit trail, taken from the basic auth
// principal.
func actor(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		return user
	}
	return "admin"
}

type adminGrantRequest struct {
	UserID       uuid.UUID `json:"user_id"`
	DefinitionID uuid.UUID `json:"definition_id"`
}

// Grant completes a definition for a user out of band: support cases,
// retroactive credit, promotions. Exactly-once still holds against the
// organic grant path.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req adminGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == uuid.Nil || req.DefinitionID == uuid.Nil {
		respondWithError(w, http.StatusBadRequest, "user_id and definition_id are required")
		return
	}

	result, err := h.grantService.AdminGrant(ctx, req.UserID, req.DefinitionID, actor(r))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Grant applied", result)
}

// RefreshLeaderboard rebuilds the active snapshot. The external scheduler
// hits this periodically; operators can also trigger it by hand.
func (h *AdminHandler) RefreshLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.leaderboardService.Refresh(ctx); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Leaderboard refreshed", nil)
}

// ResetLeaderboard runs the monthly competition rollover. Requires
// confirm=true; without it the request is rejected so a stray scheduler
// call can't wipe the board.
func (h *AdminHandler) ResetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	if err := h.leaderboardService.MonthlyReset(ctx, actor(r), confirm); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Leaderboard reset complete", nil)
}

// ClearLeaderboardCache drops the in-memory boards after out-of-band data
// fixes.
func (h *AdminHandler) ClearLeaderboardCache(w http.ResponseWriter, r *http.Request) {
	h.leaderboardService.ClearCache()
	respondWithJSON(w, http.StatusOK, "Cache cleared", nil)
}

// ListAuditLog lets operators inspect recent engine writes, optionally
// filtered by action.
func (h *AdminHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	action := r.URL.Query().Get("action")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.auditService.List(ctx, action, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load audit log")
		return
	}

	respondWithJSON(w, http.StatusOK, "Audit log retrieved", entries)
}
