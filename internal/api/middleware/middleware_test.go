package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestParseAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseAllowedOrigins(""))
	assert.Equal(t, []string{"*"}, ParseAllowedOrigins(" , "))
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, ParseAllowedOrigins("https://a.test, https://b.test"))
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://dash.test"})(okHandler(`{}`))

	t.Run("preflight answered without reaching handler", func(t *testing.T) {
		called := false
		h := CORSMiddleware([]string{"https://dash.test"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(http.MethodOptions, "/api/journeys", nil)
		req.Header.Set("Origin", "https://dash.test")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, called)
		assert.Equal(t, "https://dash.test", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys", nil)
		req.Header.Set("Origin", "https://evil.test")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("wildcard", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys", nil)
		req.Header.Set("Origin", "https://any.test")
		w := httptest.NewRecorder()
		CORSMiddleware(nil)(okHandler(`{}`)).ServeHTTP(w, req)

		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestETag(t *testing.T) {
	handler := ETag(okHandler(`{"id":"j1"}`))

	req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.JSONEq(t, `{"id":"j1"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/journeys/j1", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())

	t.Run("writes are not tagged", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/journeys", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("ETag"))
	})

	t.Run("errors are not tagged", func(t *testing.T) {
		h := ETag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/journeys/missing", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Empty(t, w.Header().Get("ETag"))
		assert.Contains(t, w.Body.String(), "not found")
	})
}

func TestCompression(t *testing.T) {
	body := `{"journeys":[],"count":0}`
	handler := Compression(okHandler(body))

	req := httptest.NewRequest(http.MethodGet, "/api/journeys", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	decoded, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, body, string(decoded))
}

func TestResponseOptimization_SkipsEventStreams(t *testing.T) {
	flushed := false
	handler := ResponseOptimization(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: connected\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
			flushed = true
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/journeys/j1/stream", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.True(t, flushed)
	assert.True(t, w.Flushed)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Empty(t, w.Header().Get("ETag"))
	assert.Equal(t, "event: connected\n\n", w.Body.String())
}

func TestCacheControl(t *testing.T) {
	handler := CacheControl(okHandler(`OK`))

	tests := []struct {
		path string
		want string
	}{
		{path: "/health", want: "no-store"},
		{path: "/api/journeys", want: "private, no-cache, must-revalidate"},
		{path: "/webhooks/payments", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Header().Get("Cache-Control"))
		})
	}
}

func TestLoggingAndObservabilityKeepFlusher(t *testing.T) {
	var flusher bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flusher = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	})
	handler := ObservabilityMiddleware(nil)(LoggingMiddleware(inner))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journeys", nil))

	assert.True(t, flusher)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	handler := LoggingMiddleware(okHandler(`{}`))

	t.Run("generated when absent", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/journeys", nil))
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})

	t.Run("caller value echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/journeys", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	})
}

func TestLoggingMiddleware_RecordsMatchedRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/journeys/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.PathValue("id")))
	})

	rec := recordResponse(httptest.NewRecorder())
	LoggingMiddleware(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journeys/j-42", nil))

	assert.Equal(t, "GET /api/journeys/{id}", rec.route)
	assert.Equal(t, http.StatusOK, rec.status)
	assert.Equal(t, len("j-42"), rec.bytes)
}
