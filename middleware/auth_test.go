package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestClerkAuthMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
	rr := httptest.NewRecorder()

	ClerkAuthMiddleware(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
}

func TestClerkAuthMiddleware_MalformedHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
	req.Header.Set("Authorization", "Token abc123")
	rr := httptest.NewRecorder()

	ClerkAuthMiddleware(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestClerkAuthMiddleware_RejectsSelfSignedToken(t *testing.T) {
	// A token signed with an arbitrary key must fail Clerk verification.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user_fake",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("not-the-clerk-key"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/user", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rr := httptest.NewRecorder()

	ClerkAuthMiddleware(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminAuthMiddleware(t *testing.T) {
	t.Setenv("ADMIN_USER", "ops")
	t.Setenv("ADMIN_PASS", "s3cret")

	t.Run("valid credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/grants", nil)
		req.SetBasicAuth("ops", "s3cret")
		rr := httptest.NewRecorder()

		AdminAuthMiddleware(okHandler()).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/grants", nil)
		req.SetBasicAuth("ops", "wrong")
		rr := httptest.NewRecorder()

		AdminAuthMiddleware(okHandler()).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/admin/v1/grants", nil)
		rr := httptest.NewRecorder()

		AdminAuthMiddleware(okHandler()).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Basic")
	})
}

func TestAdminAuthMiddleware_UnconfiguredDeniesEverything(t *testing.T) {
	t.Setenv("ADMIN_USER", "")
	t.Setenv("ADMIN_PASS", "")

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/grants", nil)
	req.SetBasicAuth("", "")
	rr := httptest.NewRecorder()

	AdminAuthMiddleware(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
