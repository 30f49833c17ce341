package crawl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/datagouv/hydra-go/internal/config"
	"github.com/datagouv/hydra-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCrawler(cfg *config.Settings) *Crawler {
	if cfg == nil {
		cfg = config.DefaultSettings()
	}
	return New(cfg, nil, nil, nil, NewMonitor())
}

func TestProbeHeadOnly(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		assert.Contains(t, r.Header.Get("User-Agent"), "hydra")
		w.Header().Set("Content-Length", "5")
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestCrawler(nil)
	check, available := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: server.URL})

	assert.Equal(t, []string{http.MethodHead}, methods, "a HEAD with Content-Length needs no GET")
	require.NotNil(t, check.Status)
	assert.Equal(t, 200, *check.Status)
	assert.Equal(t, "text/csv", check.Header("content-type"), "header keys are lowercased")
	assert.Equal(t, "5", check.Header("content-length"))
	require.NotNil(t, available)
	assert.True(t, *available)
	require.NotNil(t, check.ResponseTimeMs)
}

func TestProbeSwitchesToGet(t *testing.T) {
	t.Run("HEAD without content-length", func(t *testing.T) {
		var methods []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			methods = append(methods, r.Method)
			if r.Method == http.MethodHead {
				// No Content-Length announced.
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Write([]byte("data"))
		}))
		defer server.Close()

		c := newTestCrawler(nil)
		check, available := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: server.URL})
		assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
		require.NotNil(t, available)
		assert.True(t, *available)
		require.NotNil(t, check.Status)
		assert.Equal(t, 200, *check.Status)
	})

	t.Run("HEAD not implemented", func(t *testing.T) {
		var methods []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			methods = append(methods, r.Method)
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotImplemented)
				return
			}
			w.Header().Set("Content-Length", "4")
			w.Write([]byte("data"))
		}))
		defer server.Close()

		c := newTestCrawler(nil)
		check, _ := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: server.URL})
		assert.Equal(t, []string{http.MethodHead, http.MethodGet}, methods)
		require.NotNil(t, check.Status)
		assert.Equal(t, 200, *check.Status)
	})
}

func TestProbeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestCrawler(nil)
	check, available := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: server.URL})
	require.NotNil(t, check.Status)
	assert.Equal(t, 500, *check.Status)
	require.NotNil(t, check.Error)
	assert.Equal(t, "Internal Server Error", *check.Error)
	require.NotNil(t, available)
	assert.False(t, *available)
}

func TestProbeTooManyRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestCrawler(nil)
	check, available := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: server.URL})
	require.NotNil(t, check.Status)
	assert.Equal(t, 429, *check.Status)
	assert.Nil(t, available, "throttling leaves availability unknown")
}

func TestProbeTransportFailure(t *testing.T) {
	c := newTestCrawler(nil)
	check, available := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: "http://127.0.0.1:1/nothing"})

	assert.Nil(t, check.Status)
	require.NotNil(t, check.Error)
	require.NotNil(t, available)
	assert.False(t, *available)
}

func TestProbeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	cfg := config.DefaultSettings()
	cfg.RequestTimeout = 50 * time.Millisecond
	c := newTestCrawler(cfg)

	check, available := c.probe(context.Background(), models.Resource{ResourceID: "r", URL: server.URL})
	assert.True(t, check.Timeout)
	assert.Nil(t, check.Status)
	require.NotNil(t, available)
	assert.False(t, *available)
}
