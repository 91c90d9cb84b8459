package errors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError_Error(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad input")
	assert.Equal(t, "bad input", err.Error())
}

func TestAPIError_Render(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, render.Render(rec, req, ErrRateLimited))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestErrLoginRejected(t *testing.T) {
	err := ErrLoginRejected("banned")

	assert.Equal(t, http.StatusUnauthorized, err.StatusCode)
	assert.Equal(t, "LOGIN_REJECTED", err.ErrorCode)
	assert.Equal(t, "banned", err.Details)
}

func TestErrValidation(t *testing.T) {
	err := ErrValidation("license_key", "too short")

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	details, ok := err.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "license_key", details["field"])
	assert.Equal(t, "too short", details["message"])
}
