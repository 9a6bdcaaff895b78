package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPostsJSON(t *testing.T) {
	var got Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	occurred := time.Date(2026, 2, 24, 21, 0, 0, 0, time.UTC)
	err := NewSink(srv.URL).Record(t.Context(), "aylik_plan", 49.99, occurred, "ID-123456")
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "aylik_plan", got.PlanID)
	assert.Equal(t, 49.99, got.Amount)
	assert.Equal(t, occurred, got.OccurredAt)
	assert.Equal(t, "ID-123456", got.UserID)
}

func TestRecordSurfacesSinkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSink(srv.URL).Record(t.Context(), "aylik_plan", 49.99, time.Now(), "ID-123456")
	assert.Error(t, err)
}
