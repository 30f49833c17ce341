package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Notify(context.Background(), "d", "r", map[string]any{"k": "v"}))
}

func TestWebhookNotify(t *testing.T) {
	var gotMethod, gotAuth, gotContentType string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, "secret", 5*time.Second)
	err := webhook.Notify(context.Background(), "d1", "r1", map[string]any{
		"check:available": true,
		"check:status":    200,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "d1", gotPayload["dataset_id"])
	assert.Equal(t, "r1", gotPayload["resource_id"])
	assert.Equal(t, true, gotPayload["check:available"])
	assert.EqualValues(t, 200, gotPayload["check:status"])
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, "", time.Second)
	err := webhook.Notify(context.Background(), "d", "r", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, "", time.Second)
	err := webhook.Notify(context.Background(), "d", "r", map[string]any{})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "4xx answers are not retried")
}

func TestWebhookNoTokenHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL, "", time.Second)
	assert.NoError(t, webhook.Notify(context.Background(), "d", "r", map[string]any{}))
}
