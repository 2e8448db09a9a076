package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/formbricks/buckets/internal/models"
)

// ErrNoExemplars is returned when GenerateLabel is called without requests.
var ErrNoExemplars = errors.New("openai: no exemplars to label")

const (
	// DefaultLabelingModel is used when Config.Model is empty.
	DefaultLabelingModel = string(openaisdk.ChatModelGPT4oMini)

	// MaxExemplars is the number of requests shown to the model.
	MaxExemplars = 5

	titleMaxTokens   = 20
	summaryMaxTokens = 60
	labelTemperature = 0.3
)

const (
	titlePrompt = "You name groups of related product feature requests. " +
		"Reply with a short title of at most 5 words and under 50 characters. " +
		"No quotes, no trailing punctuation."
	summaryPrompt = "You summarize groups of related product feature requests. " +
		"Reply with one sentence of at most 150 characters describing what users want."
)

// Labeler generates bucket titles and summaries with chat completions.
type Labeler struct {
	sdk   openaisdk.Client
	model string
}

// NewLabeler creates a Labeler. Config.Dimensions is ignored.
func NewLabeler(cfg Config) *Labeler {
	model := cfg.Model
	if model == "" {
		model = DefaultLabelingModel
	}

	return &Labeler{
		sdk:   openaisdk.NewClient(cfg.requestOptions()...),
		model: model,
	}
}

// GenerateLabel asks for a title and a summary of up to MaxExemplars requests.
// The label is returned as produced; callers trim and bound it.
func (l *Labeler) GenerateLabel(ctx context.Context, exemplars []models.Exemplar) (*models.BucketLabel, error) {
	if len(exemplars) == 0 {
		return nil, ErrNoExemplars
	}

	input := formatExemplars(exemplars)

	title, err := l.complete(ctx, titlePrompt, input, titleMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("generate title: %w", err)
	}

	summary, err := l.complete(ctx, summaryPrompt, input, summaryMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	return &models.BucketLabel{Title: title, Summary: summary}, nil
}

func (l *Labeler) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	resp, err := l.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(l.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(system),
			openaisdk.UserMessage(user),
		},
		MaxTokens:   param.NewOpt(maxTokens),
		Temperature: param.NewOpt(labelTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// formatExemplars renders requests as a numbered list, one per line.
func formatExemplars(exemplars []models.Exemplar) string {
	if len(exemplars) > MaxExemplars {
		exemplars = exemplars[:MaxExemplars]
	}

	var b strings.Builder

	b.WriteString("Feature requests:\n")

	for i, ex := range exemplars {
		fmt.Fprintf(&b, "%d. %s", i+1, strings.TrimSpace(ex.Title))

		if desc := strings.TrimSpace(ex.Description); desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}

		b.WriteString("\n")
	}

	return b.String()
}
