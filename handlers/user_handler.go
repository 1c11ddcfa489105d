package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"placeQuestAPI/internal/ledger"
	"placeQuestAPI/internal/user"
	"placeQuestAPI/middleware"
	"placeQuestAPI/services"
)

type UserHandler struct {
	userService     *services.UserService
	progressService *services.ProgressService
	ledgerService   *services.LedgerService
}

func NewUserHandler(userService *services.UserService, progressService *services.ProgressService, ledgerService *services.LedgerService) *UserHandler {
	return &UserHandler{
		userService:     userService,
		progressService: progressService,
		ledgerService:   ledgerService,
	}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	u, err := h.userService.GetUserByClerkID(ctx, clerkID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Profile retrieved", u)
}

// SyncUser creates the local user row for an authenticated Clerk identity.
// Called by the client after sign-up; idempotent for existing users.
func (h *UserHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	clerkID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req user.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ClerkID = clerkID

	if existing, err := h.userService.GetUserByClerkID(ctx, clerkID); err == nil {
		respondWithJSON(w, http.StatusOK, "User already exists", existing)
		return
	}

	u, err := h.userService.CreateUser(ctx, &req)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	respondWithJSON(w, http.StatusCreated, "User created", u)
}

// GetProgress lists every active definition with the caller's progress in
// the current period.
func (h *UserHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
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

	items, err := h.progressService.ListProgress(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load progress")
		return
	}

	respondWithJSON(w, http.StatusOK, "Progress retrieved", items)
}

// GetHistory pages through the caller's coin and exp transactions, newest
// first. Optional query params: currency (coin|exp), page, page_size.
func (h *UserHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
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

	currency := ledger.Currency(r.URL.Query().Get("currency"))
	if currency != "" && currency != ledger.CurrencyCoin && currency != ledger.CurrencyExp {
		respondWithError(w, http.StatusBadRequest, "Unknown currency")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	history, err := h.ledgerService.History(ctx, userID, currency, page, pageSize)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load transaction history")
		return
	}

	respondWithJSON(w, http.StatusOK, "History retrieved", history)
}
