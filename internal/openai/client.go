// Package openai wraps the official OpenAI Go SDK for embeddings and bucket labeling.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

var (
	// ErrEmptyInput is returned when CreateEmbedding is called with empty input.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("openai: embedding dimension mismatch")
)

const (
	// DefaultEmbeddingModel is used when Config.Model is empty.
	DefaultEmbeddingModel = string(openaisdk.EmbeddingModelTextEmbedding3Small)
	defaultDimension      = 1536
)

// Config configures the OpenAI clients.
type Config struct {
	APIKey string
	// BaseURL overrides the API endpoint (tests, proxies, compatible providers).
	BaseURL string
	Model   string
	// Dimensions is the requested embedding size; it must match the vector column.
	Dimensions int
	// HTTPClient carries retries; the SDK's own retries are disabled when it is set.
	HTTPClient *http.Client
}

func (cfg Config) requestOptions() []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient), option.WithMaxRetries(0))
	}

	return opts
}

// Client calls the OpenAI embeddings API.
type Client struct {
	sdk        openaisdk.Client
	model      string
	dimensions int
}

// NewClient creates an embeddings client.
func NewClient(cfg Config) *Client {
	client := &Client{
		sdk:        openaisdk.NewClient(cfg.requestOptions()...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}

	if client.model == "" {
		client.model = DefaultEmbeddingModel
	}

	if client.dimensions == 0 {
		client.dimensions = defaultDimension
	}

	return client
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.model
}

// CreateEmbedding returns the embedding vector for input.
// The returned slice length equals the configured dimensions.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(input),
		},
		Model:      openaisdk.EmbeddingModel(c.model),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, ErrNoEmbeddingInResponse
	}

	emb := resp.Data[0].Embedding
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}

	return out, nil
}
