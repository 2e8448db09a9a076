package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formbricks/buckets/internal/models"
	"github.com/formbricks/buckets/internal/repository"
)

type mockSearcher struct {
	nearestBucketFunc func(ctx context.Context, tenantID string, vector []float32) (*models.BucketMatch, error)
}

func (m *mockSearcher) NearestBucket(ctx context.Context, tenantID string, vector []float32) (*models.BucketMatch, error) {
	return m.nearestBucketFunc(ctx, tenantID, vector)
}

func TestNewResolver_Threshold(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{in: 0.78, want: 0.78},
		{in: 0.9, want: 0.9},
		{in: 1, want: 1},
		{in: 0, want: DefaultSimilarityThreshold},
		{in: -0.5, want: DefaultSimilarityThreshold},
		{in: 1.2, want: DefaultSimilarityThreshold},
	}

	for _, tt := range tests {
		r := NewResolver(&mockSearcher{}, tt.in, nil, nil)
		assert.InDelta(t, tt.want, r.Threshold(), 0)
	}
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	bucketID := uuid.New()

	tests := []struct {
		name      string
		match     *models.BucketMatch
		err       error
		wantMatch bool
	}{
		{name: "no buckets", match: nil},
		{name: "at threshold", match: &models.BucketMatch{BucketID: bucketID, Similarity: 0.78}, wantMatch: true},
		{name: "below threshold", match: &models.BucketMatch{BucketID: bucketID, Similarity: 0.7799}},
		{name: "identical", match: &models.BucketMatch{BucketID: bucketID, Similarity: 1}, wantMatch: true},
		{name: "search error", err: errors.New("timeout")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTenant string

			metrics := &recordingMetrics{}
			r := NewResolver(&mockSearcher{
				nearestBucketFunc: func(_ context.Context, tenantID string, _ []float32) (*models.BucketMatch, error) {
					gotTenant = tenantID

					return tt.match, tt.err
				},
			}, DefaultSimilarityThreshold, metrics, nil)

			got := r.Resolve(ctx, "tenant-a", axisX)
			assert.Equal(t, "tenant-a", gotTenant)

			if tt.wantMatch {
				require.NotNil(t, got)
				assert.Equal(t, bucketID, got.BucketID)
			} else {
				assert.Nil(t, got)
			}

			if tt.err != nil {
				assert.Equal(t, []string{"search_failed"}, metrics.resolverFallbacks)
			} else {
				assert.Empty(t, metrics.resolverFallbacks)
			}
		})
	}
}

func TestResolver_ResolveInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("failed search rolls back to its savepoint", func(t *testing.T) {
		store := newMemStore()
		store.nearestFunc = func(string, []float32) (*models.BucketMatch, error) {
			return nil, errors.New("statement timeout")
		}

		metrics := &recordingMetrics{}
		r := NewResolver(store, DefaultSimilarityThreshold, metrics, nil)

		err := store.InTx(ctx, func(tx repository.ClusterTx) error {
			assert.Nil(t, r.ResolveInTx(ctx, tx, "tenant-a", axisX))

			_, err := tx.CreateBucket(ctx, &models.NewBucket{TenantID: "tenant-a", Title: "Dark mode", Centroid: axisX})

			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, store.bucketCount("tenant-a"))
		assert.Equal(t, []string{"search_failed"}, metrics.resolverFallbacks)
	})

	t.Run("match inside the transaction", func(t *testing.T) {
		store := newMemStore()

		var bucketID uuid.UUID

		err := store.InTx(ctx, func(tx repository.ClusterTx) error {
			b, err := tx.CreateBucket(ctx, &models.NewBucket{TenantID: "tenant-a", Title: "Dark mode", Centroid: axisX})
			if err != nil {
				return err
			}

			bucketID = b.ID

			got := NewResolver(store, DefaultSimilarityThreshold, nil, nil).ResolveInTx(ctx, tx, "tenant-a", axisX)
			require.NotNil(t, got)
			assert.Equal(t, bucketID, got.BucketID)

			return nil
		})
		require.NoError(t, err)
	})
}
