package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/buckets/internal/httpclient"
	"github.com/formbricks/buckets/internal/models"
)

type fakeAPI struct {
	mu       sync.Mutex
	requests []map[string]any
	status   int
	failures int // respond 503 this many times first

	embedding []float64
	replies   []string // chat replies, in order
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		w.WriteHeader(http.StatusServiceUnavailable)

		return
	}

	body, _ := io.ReadAll(r.Body)

	var req map[string]any
	_ = json.Unmarshal(body, &req)
	f.requests = append(f.requests, req)

	w.Header().Set("Content-Type", "application/json")

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))

		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req["model"],
			"data":   []any{map[string]any{"object": "embedding", "index": 0, "embedding": f.embedding}},
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		reply := ""
		if len(f.replies) > 0 {
			reply, f.replies = f.replies[0], f.replies[1:]
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req["model"],
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestConfig(t *testing.T, api *fakeAPI) Config {
	t.Helper()

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	return Config{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		HTTPClient: httpclient.New(httpclient.Options{
			RetryMax:     2,
			RetryWaitMin: time.Millisecond,
			RetryWaitMax: 2 * time.Millisecond,
		}),
	}
}

func TestClient_CreateEmbedding(t *testing.T) {
	ctx := context.Background()

	t.Run("returns vector", func(t *testing.T) {
		api := &fakeAPI{embedding: []float64{0.1, 0.2, 0.3}}
		cfg := newTestConfig(t, api)
		cfg.Dimensions = 3
		cfg.Model = "text-embedding-3-large"

		vec, err := NewClient(cfg).CreateEmbedding(ctx, "  Dark mode ")
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, vec, 1e-6)

		require.Len(t, api.requests, 1)
		assert.Equal(t, "Dark mode", api.requests[0]["input"])
		assert.Equal(t, "text-embedding-3-large", api.requests[0]["model"])
		assert.InDelta(t, 3, api.requests[0]["dimensions"], 0)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		api := &fakeAPI{embedding: []float64{1, 0}, failures: 2}
		cfg := newTestConfig(t, api)
		cfg.Dimensions = 2

		_, err := NewClient(cfg).CreateEmbedding(ctx, "Dark mode")
		require.NoError(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		api := &fakeAPI{embedding: []float64{1, 0}}
		cfg := newTestConfig(t, api)
		cfg.Dimensions = 3

		_, err := NewClient(cfg).CreateEmbedding(ctx, "Dark mode")
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("api error", func(t *testing.T) {
		api := &fakeAPI{status: http.StatusBadRequest}
		cfg := newTestConfig(t, api)

		_, err := NewClient(cfg).CreateEmbedding(ctx, "Dark mode")
		assert.ErrorContains(t, err, "openai embedding")
	})

	t.Run("empty input", func(t *testing.T) {
		api := &fakeAPI{}
		_, err := NewClient(newTestConfig(t, api)).CreateEmbedding(ctx, "   ")
		assert.ErrorIs(t, err, ErrEmptyInput)
		assert.Empty(t, api.requests)
	})

	t.Run("defaults", func(t *testing.T) {
		c := NewClient(Config{APIKey: "sk-test"})
		assert.Equal(t, DefaultEmbeddingModel, c.Model())
		assert.Equal(t, defaultDimension, c.dimensions)
	})
}

func TestLabeler_GenerateLabel(t *testing.T) {
	ctx := context.Background()

	t.Run("title then summary", func(t *testing.T) {
		api := &fakeAPI{replies: []string{"Theme Customization", " Users want dark mode and theme options "}}
		l := NewLabeler(newTestConfig(t, api))

		label, err := l.GenerateLabel(ctx, []models.Exemplar{
			{Title: "Add dark mode", Description: "I want a dark theme"},
			{Title: "Night theme"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Theme Customization", label.Title)
		assert.Equal(t, "Users want dark mode and theme options", label.Summary)

		require.Len(t, api.requests, 2)
		assert.InDelta(t, titleMaxTokens, api.requests[0]["max_tokens"], 0)
		assert.InDelta(t, summaryMaxTokens, api.requests[1]["max_tokens"], 0)
		assert.Equal(t, DefaultLabelingModel, api.requests[0]["model"])
	})

	t.Run("no exemplars", func(t *testing.T) {
		api := &fakeAPI{}
		_, err := NewLabeler(newTestConfig(t, api)).GenerateLabel(ctx, nil)
		assert.ErrorIs(t, err, ErrNoExemplars)
		assert.Empty(t, api.requests)
	})

	t.Run("api error", func(t *testing.T) {
		api := &fakeAPI{status: http.StatusBadRequest}
		_, err := NewLabeler(newTestConfig(t, api)).GenerateLabel(ctx, []models.Exemplar{{Title: "x"}})
		assert.ErrorContains(t, err, "generate title")
	})
}

func TestFormatExemplars(t *testing.T) {
	exemplars := make([]models.Exemplar, 7)
	for i := range exemplars {
		exemplars[i] = models.Exemplar{Title: " Request ", Description: ""}
	}

	exemplars[0].Description = "with details"

	got := formatExemplars(exemplars)
	assert.Equal(t, MaxExemplars+1, strings.Count(got, "\n"))
	assert.Contains(t, got, "1. Request: with details\n")
	assert.Contains(t, got, "5. Request\n")
	assert.NotContains(t, got, "6. ")
}
