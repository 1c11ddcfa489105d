package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"placeQuestAPI/services"
)

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, message string, data any) {
	response, err := json.Marshal(apiResponse{Success: code < 400, Message: message, Data: data})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"message":"Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, message, nil)
}

// respondWithServiceError maps the service error taxonomy onto HTTP codes
// so every handler reports the same failure the same way.
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrAlreadyGranted):
		respondWithError(w, http.StatusConflict, "Already granted for this period")
	case errors.Is(err, services.ErrInsufficientCoin):
		respondWithError(w, http.StatusUnprocessableEntity, "Not enough coin")
	case errors.Is(err, services.ErrOutOfStock):
		respondWithError(w, http.StatusConflict, "Reward is out of stock")
	case errors.Is(err, services.ErrRewardInactive):
		respondWithError(w, http.StatusUnprocessableEntity, "Reward is not available")
	case errors.Is(err, services.ErrDefinitionInactive):
		respondWithError(w, http.StatusUnprocessableEntity, "Definition is not active")
	case errors.Is(err, services.ErrConfirmationRequired):
		respondWithError(w, http.StatusConflict, "Confirmation required: pass confirm=true")
	case errors.Is(err, services.ErrJobAlreadyRunning):
		respondWithError(w, http.StatusConflict, "Job is already running")
	case errors.Is(err, services.ErrUnknownWindow):
		respondWithError(w, http.StatusBadRequest, "Unknown leaderboard window")
	default:
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
