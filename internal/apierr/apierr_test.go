package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Auth("Missing API Key", ""), http.StatusUnauthorized},
		{Forbidden("Access denied", ""), http.StatusForbidden},
		{NotFound("gone"), http.StatusNotFound},
		{RateLimit(time.Second), http.StatusTooManyRequests},
		{Internal(""), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Write(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, Auth("Unknown API Key", "The provided API key is not registered"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Unknown API Key", body["error"])
	assert.Equal(t, "The provided API key is not registered", body["message"])
	assert.NotContains(t, body, "retryAfter")
}

func TestWriteRateLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, RateLimit(42*time.Second+500*time.Millisecond))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(42500), body["retryAfter"])
	assert.Equal(t, "43", rec.Header().Get("Retry-After"))
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	err := fmt.Errorf("handler: %w", Forbidden("Forbidden", "not yours"))
	rec := httptest.NewRecorder()
	Write(rec, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("pq: password authentication failed for user hub"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}
