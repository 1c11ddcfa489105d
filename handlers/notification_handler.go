package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"placeQuestAPI/internal/notification"
	"placeQuestAPI/middleware"
	"placeQuestAPI/services"
)

type NotificationHandler struct {
	userService         *services.UserService
	notificationService *services.NotificationService
}

func NewNotificationHandler(userService *services.UserService, notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{
		userService:         userService,
		notificationService: notificationService,
	}
}

// RegisterDevice stores an FCM device token so grant notifications can be
// pushed. Re-registering the same token updates its platform.
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
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

	var req notification.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.notificationService.RegisterDevice(ctx, userID, &req); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to register device")
		return
	}

	respondWithJSON(w, http.StatusCreated, "Device registered", nil)
}

func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
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

	notifications, err := h.notificationService.GetNotifications(ctx, userID, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to load notifications")
		return
	}

	respondWithJSON(w, http.StatusOK, "Notifications retrieved", notifications)
}
