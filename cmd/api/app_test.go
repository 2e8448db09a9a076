package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/buckets/internal/api/handlers"
	"github.com/formbricks/buckets/internal/config"
	"github.com/formbricks/buckets/internal/models"
)

const testAPIKey = "test-api-key-12345"

type stubBucketsService struct{}

func (stubBucketsService) GetBucket(context.Context, string, uuid.UUID, *string) (*models.BucketDetail, error) {
	return &models.BucketDetail{}, nil
}

func (stubBucketsService) ListBuckets(_ context.Context, f *models.ListBucketsFilters) (*models.ListBucketsResponse, error) {
	return &models.ListBucketsResponse{Data: []models.BucketWithStats{}, Limit: f.Limit}, nil
}

func (stubBucketsService) CreateBucket(
	_ context.Context, tenantID string, req *models.CreateBucketRequest, _ *string,
) (*models.Bucket, error) {
	return &models.Bucket{ID: uuid.New(), TenantID: tenantID, Title: req.Title}, nil
}

func (stubBucketsService) UpdateBucket(
	_ context.Context, _ string, id uuid.UUID, _ *models.UpdateBucketRequest, _ *string,
) (*models.Bucket, error) {
	return &models.Bucket{ID: id}, nil
}

func (stubBucketsService) DeleteBucket(context.Context, string, uuid.UUID) error {
	return nil
}

// setupTestServer builds the production handler chain over stubbed services.
func setupTestServer(t *testing.T, metrics http.Handler) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Port:                "0",
		APIKey:              testAPIKey,
		AdminAPIKey:         "admin-key",
		MaxRequestBodyBytes: 1 << 10,
	}

	srv := newHTTPServer(cfg, serverHandlers{
		health:  handlers.NewHealthHandler(nil),
		buckets: handlers.NewBucketsHandler(stubBucketsService{}),
		metrics: metrics,
	}, nil, nil, nil)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return ts
}

func send(t *testing.T, ts *httptest.Server, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

func TestHTTPServer_Routing(t *testing.T) {
	ts := setupTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	}))

	auth := map[string]string{"Authorization": "Bearer " + testAPIKey, "X-Tenant-ID": "tenant-a"}
	admin := map[string]string{"Authorization": "Bearer " + testAPIKey, "X-Tenant-ID": "tenant-a", "X-Admin-Key": "admin-key"}

	t.Run("health is public", func(t *testing.T) {
		resp := send(t, ts, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("metrics is public", func(t *testing.T) {
		resp := send(t, ts, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("v1 requires the API key", func(t *testing.T) {
		resp := send(t, ts, http.MethodGet, "/v1/feature-buckets", "", map[string]string{"X-Tenant-ID": "tenant-a"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = send(t, ts, http.MethodGet, "/v1/feature-buckets", "", map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("list with API key", func(t *testing.T) {
		resp := send(t, ts, http.MethodGet, "/v1/feature-buckets", "", auth)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("mutations require admin", func(t *testing.T) {
		id := uuid.NewString()

		resp := send(t, ts, http.MethodPatch, "/v1/feature-buckets/"+id, `{"status":"planned"}`, auth)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = send(t, ts, http.MethodPatch, "/v1/feature-buckets/"+id, `{"status":"planned"}`, admin)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = send(t, ts, http.MethodDelete, "/v1/feature-buckets/"+id, "", admin)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("oversized body is rejected", func(t *testing.T) {
		body := `{"title":"` + strings.Repeat("a", 2048) + `"}`

		resp := send(t, ts, http.MethodPost, "/v1/feature-buckets", body, admin)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("classification routes absent without a provider", func(t *testing.T) {
		resp := send(t, ts, http.MethodPost, "/v1/feature-requests/"+uuid.NewString()+"/process-embedding", "", auth)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestHTTPServer_NoMetricsHandler(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp := send(t, ts, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewEmbeddingClient(t *testing.T) {
	t.Run("unset provider disables classification", func(t *testing.T) {
		client, model, err := newEmbeddingClient(&config.Config{}, http.DefaultClient)
		require.NoError(t, err)
		assert.Nil(t, client)
		assert.Empty(t, model)
	})

	t.Run("unsupported provider", func(t *testing.T) {
		_, _, err := newEmbeddingClient(&config.Config{EmbeddingProvider: "local"}, http.DefaultClient)
		assert.ErrorIs(t, err, errUnsupportedEmbeddingProvider)
	})

	t.Run("openai uses default model", func(t *testing.T) {
		client, model, err := newEmbeddingClient(&config.Config{
			EmbeddingProvider:       embeddingProviderOpenAI,
			EmbeddingProviderAPIKey: "sk-test",
			EmbeddingDimensions:     1536,
		}, http.DefaultClient)
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, "text-embedding-3-small", model)
	})
}
