package service

import (
	"context"
	"strings"

	"github.com/formbricks/buckets/internal/models"
)

// Label length limits; generated and fallback labels are cut to these.
const (
	MaxLabelTitleRunes   = 50
	MaxLabelSummaryRunes = 150
)

// LabelingClient produces a short title and summary for a group of related requests.
// Implemented by openai.Labeler.
type LabelingClient interface {
	GenerateLabel(ctx context.Context, exemplars []models.Exemplar) (*models.BucketLabel, error)
}

// FallbackLabel labels a bucket from its first request when the generator is unavailable:
// the title truncated, and the description (or title) truncated as summary.
func FallbackLabel(req *models.FeatureRequest) models.BucketLabel {
	title := strings.TrimSpace(req.Title)

	summary := title
	if req.Description != nil && strings.TrimSpace(*req.Description) != "" {
		summary = strings.TrimSpace(*req.Description)
	}

	return models.BucketLabel{
		Title:   truncateRunes(title, MaxLabelTitleRunes),
		Summary: truncateRunes(summary, MaxLabelSummaryRunes),
	}
}

// sanitizeLabel trims and bounds a generated label. ok is false when the title is empty.
func sanitizeLabel(l *models.BucketLabel) (models.BucketLabel, bool) {
	if l == nil {
		return models.BucketLabel{}, false
	}

	out := models.BucketLabel{
		Title:   truncateRunes(strings.TrimSpace(strings.Trim(strings.TrimSpace(l.Title), `"'`)), MaxLabelTitleRunes),
		Summary: truncateRunes(strings.TrimSpace(l.Summary), MaxLabelSummaryRunes),
	}

	return out, out.Title != ""
}
