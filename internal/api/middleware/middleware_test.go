package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/buckets/internal/observability"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	handler := Auth("secret")(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid key", header: "Bearer secret", want: http.StatusOK},
		{name: "scheme is case insensitive", header: "bearer secret", want: http.StatusOK},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic secret", want: http.StatusUnauthorized},
		{name: "empty key", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "wrong key", header: "Bearer nope", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/feature-buckets", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestIdentity(t *testing.T) {
	var got Caller

	var logTenant any

	handler := Identity("admin-secret")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = CallerFromContext(r.Context())
		logTenant = r.Context().Value(observability.TenantIDKey)
	}))

	t.Run("reads headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set(TenantIDHeader, " tenant-a ")
		req.Header.Set(UserIDHeader, "user-1")
		req.Header.Set(AdminKeyHeader, "admin-secret")

		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "tenant-a", got.TenantID)
		require.NotNil(t, got.UserID)
		assert.Equal(t, "user-1", *got.UserID)
		assert.True(t, got.Admin)
		assert.Equal(t, "tenant-a", logTenant)
	})

	t.Run("wrong admin key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set(AdminKeyHeader, "guess")

		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, got.Admin)
		assert.Nil(t, got.UserID)
		assert.Nil(t, logTenant)
	})

	t.Run("admin disabled when no key configured", func(t *testing.T) {
		var caller Caller

		h := Identity("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			caller = CallerFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, caller.Admin)
	})
}

func TestRequireAdmin(t *testing.T) {
	handler := Identity("admin-secret")(RequireAdmin(okHandler))

	req := httptest.NewRequest(http.MethodPatch, "/v1/feature-buckets/x", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(AdminKeyHeader, "admin-secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestID(t *testing.T) {
	var ctxID any

	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ctxID = r.Context().Value(observability.RequestIDKey)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	generated := rec.Header().Get(requestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, ctxID)

	req.Header.Set(requestIDHeader, "client-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", rec.Header().Get(requestIDHeader))
}

type recordingAPIMetrics struct {
	routes   []string
	classes  []string
	tooLarge int
}

func (m *recordingAPIMetrics) RecordRequest(_ context.Context, _, route, statusClass string, _ time.Duration) {
	m.routes = append(m.routes, route)
	m.classes = append(m.classes, statusClass)
}

func (m *recordingAPIMetrics) RecordRequestBodyTooLarge(context.Context) {
	m.tooLarge++
}

func TestMetrics(t *testing.T) {
	metrics := &recordingAPIMetrics{}
	handler := Metrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/feature-buckets/550e8400-e29b-41d4-a716-446655440000", http.NoBody)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{"/v1/feature-buckets/{id}"}, metrics.routes)
	assert.Equal(t, []string{"4xx"}, metrics.classes)

	rec := httptest.NewRecorder()
	Metrics(nil)(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNormalizeRoute(t *testing.T) {
	id := "550e8400-e29b-41d4-a716-446655440000"

	assert.Equal(t, "/v1/feature-requests/{id}/process-embedding",
		normalizeRoute("/v1/feature-requests/"+id+"/process-embedding"))
	assert.Equal(t, "/v1/feature-buckets", normalizeRoute("/v1/feature-buckets"))
}

func TestStatusToClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 202: "2xx", 304: "3xx", 401: "4xx", 502: "5xx", 0: "unknown"} {
		assert.Equal(t, want, statusToClass(status))
	}
}

func TestMaxBody(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	})

	tests := []struct {
		name      string
		limit     int64
		method    string
		body      string
		wantCode  int
		wantBody  string
		wantTally int
	}{
		{"small body is read to EOF", 1024, http.MethodPost, "hello", http.StatusCreated, "hello", 0},
		{"body at the limit", 8, http.MethodPost, "12345678", http.StatusCreated, "12345678", 0},
		{"oversized body is 413", 8, http.MethodPost, strings.Repeat("x", 64), http.StatusRequestEntityTooLarge, "", 1},
		{"oversized patch is 413", 8, http.MethodPatch, strings.Repeat("x", 9), http.StatusRequestEntityTooLarge, "", 1},
		{"get streams through", 8, http.MethodGet, "", http.StatusCreated, "", 0},
		{"zero limit disables cap", 0, http.MethodPost, strings.Repeat("x", 64), http.StatusCreated, strings.Repeat("x", 64), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := &recordingAPIMetrics{}
			handler := MaxBody(tt.limit, metrics)(echo)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantTally, metrics.tooLarge)

			if tt.wantCode == http.StatusRequestEntityTooLarge {
				assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			} else {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestMaxBody_ReadAllReturnsNoError(t *testing.T) {
	var readErr error

	handler := MaxBody(1024, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)

		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello")))

	require.NoError(t, readErr)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogging_RecordsStatus(t *testing.T) {
	var seen int

	handler := Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)

		rw, ok := w.(*responseWriter)
		require.True(t, ok)

		seen = rw.statusCode
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusTeapot, seen)
}
