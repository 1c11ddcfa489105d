package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placeQuestAPI/services"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestRespondWithJSON_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()

	respondWithJSON(rr, http.StatusOK, "All good", map[string]int{"n": 1})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decodeEnvelope(t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "All good", resp.Message)
	assert.NotNil(t, resp.Data)
}

func TestRespondWithError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()

	respondWithError(rr, http.StatusNotFound, "Not found")

	assert.Equal(t, http.StatusNotFound, rr.Code)

	resp := decodeEnvelope(t, rr)
	assert.False(t, resp.Success)
	assert.Equal(t, "Not found", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestRespondWithServiceError_Mapping(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
	}{
		{services.ErrNotFound, http.StatusNotFound},
		{services.ErrAlreadyGranted, http.StatusConflict},
		{services.ErrInsufficientCoin, http.StatusUnprocessableEntity},
		{services.ErrOutOfStock, http.StatusConflict},
		{services.ErrRewardInactive, http.StatusUnprocessableEntity},
		{services.ErrConfirmationRequired, http.StatusConflict},
		{services.ErrJobAlreadyRunning, http.StatusConflict},
		{services.ErrUnknownWindow, http.StatusBadRequest},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		rr := httptest.NewRecorder()
		respondWithServiceError(rr, tc.err)
		assert.Equal(t, tc.wantCode, rr.Code, "error %v", tc.err)
	}
}

func TestResetLeaderboard_RequiresConfirm(t *testing.T) {
	// Without confirm=true the service bails out before touching anything,
	// so a handler wired to an unconnected service still answers correctly.
	h := NewAdminHandler(nil, services.NewLeaderboardService(nil, nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/jobs/leaderboard-reset", nil)
	req.SetBasicAuth("ops", "s3cret")
	rr := httptest.NewRecorder()

	h.ResetLeaderboard(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	resp := decodeEnvelope(t, rr)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "confirm")
}

func TestRecordAction_RejectsBadInput(t *testing.T) {
	h := NewActionHandler(nil)

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/v1/actions", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()

		h.RecordAction(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing user_id", func(t *testing.T) {
		body := `{"action": "checkin", "payload": {"place_id": "p1"}}`
		req := httptest.NewRequest(http.MethodPost, "/internal/v1/actions", strings.NewReader(body))
		rr := httptest.NewRecorder()

		h.RecordAction(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		body := `{"user_id": "5f9c6b1a-9f0c-4a6b-8d8e-1f2a3b4c5d6e", "action": "teleport"}`
		req := httptest.NewRequest(http.MethodPost, "/internal/v1/actions", strings.NewReader(body))
		rr := httptest.NewRecorder()

		h.RecordAction(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeEnvelope(t, rr)
		assert.Equal(t, "Unknown action", resp.Message)
	})
}

func TestUnauthenticatedHandlersReject(t *testing.T) {
	// Handlers read the Clerk ID from context; a request that skipped the
	// auth middleware must be rejected, not treated as anonymous.
	h := NewUserHandler(nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
	rr := httptest.NewRecorder()

	h.GetProfile(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
