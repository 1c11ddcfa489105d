package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"placeQuestAPI/middleware"
	"placeQuestAPI/services"
)

type RewardHandler struct {
	userService   *services.UserService
	rewardService *services.RewardService
}

func NewRewardHandler(userService *services.UserService, rewardService *services.RewardService) *RewardHandler {
	return &RewardHandler{
		userService:   userService,
		rewardService: rewardService,
	}
}

func (h *RewardHandler) ListRewards(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rewards, err := h.rewardService.ListRewards(ctx)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load rewards")
		return
	}

	respondWithJSON(w, http.StatusOK, "Rewards retrieved", rewards)
}

func (h *RewardHandler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
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

	rewardID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid reward ID")
		return
	}

	redemption, err := h.rewardService.RedeemReward(ctx, userID, rewardID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, "Reward redeemed", redemption)
}

func (h *RewardHandler) GetRedemptions(w http.ResponseWriter, r *http.Request) {
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

	redemptions, err := h.rewardService.GetRedemptions(ctx, userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load redemptions")
		return
	}

	respondWithJSON(w, http.StatusOK, "Redemptions retrieved", redemptions)
}
