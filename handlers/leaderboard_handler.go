package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"placeQuestAPI/internal/leaderboard"
	"placeQuestAPI/middleware"
	"placeQuestAPI/services"
)

type LeaderboardHandler struct {
	userService        *services.UserService
	leaderboardService *services.LeaderboardService
}

func NewLeaderboardHandler(userService *services.UserService, leaderboardService *services.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{
		userService:        userService,
		leaderboardService: leaderboardService,
	}
}

// GetLeaderboard serves the all-time board with the caller's own position
// attached. Optional query param: limit.
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	userID, err := h.userService.ResolveUserID(ctx, clerkID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	board, err := h.leaderboardService.GetTopUsers(ctx, userID, limit)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Leaderboard retrieved", board)
}

// GetWindowLeaderboard serves the week or month board. The window comes
// from the route path.
func (h *LeaderboardHandler) GetWindowLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	userID, err := h.userService.ResolveUserID(ctx, clerkID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	window := leaderboard.Window(mux.Vars(r)["window"])
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	board, err := h.leaderboardService.GetTopUsersInWindow(ctx, userID, window, limit)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Leaderboard retrieved", board)
}

// GetMyRank answers the caller's position without the surrounding board.
func (h *LeaderboardHandler) GetMyRank(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	userID, err := h.userService.ResolveUserID(ctx, clerkID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	entry, err := h.leaderboardService.GetUserRank(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Rank retrieved", entry)
}
