package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/jobs"
	"github.com/formbricks/buckets/internal/models"
)

type mockClassifier struct {
	classifyFunc func(ctx context.Context, id uuid.UUID) (*models.ClassificationResult, error)
	calls        []uuid.UUID
}

func (m *mockClassifier) Classify(ctx context.Context, id uuid.UUID) (*models.ClassificationResult, error) {
	m.calls = append(m.calls, id)

	return m.classifyFunc(ctx, id)
}

func classifyJob(id uuid.UUID, attempt, maxAttempts int) *river.Job[jobs.ClassifyFeatureRequestArgs] {
	return &river.Job[jobs.ClassifyFeatureRequestArgs]{
		JobRow: &rivertype.JobRow{Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   jobs.ClassifyFeatureRequestArgs{FeatureRequestID: id},
	}
}

func TestClassificationWorker_Work(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	upstream := huberrors.NewUpstreamError("embedding", errors.New("503"))

	tests := []struct {
		name    string
		err     error
		attempt int
		wantErr bool
	}{
		{name: "success", err: nil, attempt: 1},
		{name: "request deleted is not retried", err: huberrors.NewNotFoundError("feature_request", "gone"), attempt: 1},
		{name: "empty text is not retried", err: huberrors.NewValidationError("text", "empty"), attempt: 1},
		{name: "upstream failure is retried", err: upstream, attempt: 1, wantErr: true},
		{name: "upstream failure on last attempt is dropped", err: upstream, attempt: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := &mockClassifier{
				classifyFunc: func(_ context.Context, id uuid.UUID) (*models.ClassificationResult, error) {
					if tt.err != nil {
						return nil, tt.err
					}

					return &models.ClassificationResult{FeatureID: id, BucketID: uuid.New()}, nil
				},
			}

			w := NewClassificationWorker(classifier, nil)
			err := w.Work(ctx, classifyJob(id, tt.attempt, 3))

			require.Equal(t, []uuid.UUID{id}, classifier.calls)

			if tt.wantErr {
				assert.ErrorIs(t, err, huberrors.ErrUpstream)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClassificationWorker_Timeout(t *testing.T) {
	w := NewClassificationWorker(&mockClassifier{}, nil)
	assert.Equal(t, classificationTimeout, w.Timeout(classifyJob(uuid.New(), 1, 1)))
}
