package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/repository"
	"github.com/formbricks/buckets/pkg/embeddings"
)

// CentroidMaintainer keeps a bucket's centroid equal to the mean of its members' embeddings.
type CentroidMaintainer struct {
	logger *slog.Logger
}

// NewCentroidMaintainer creates a CentroidMaintainer.
func NewCentroidMaintainer(logger *slog.Logger) *CentroidMaintainer {
	if logger == nil {
		logger = slog.Default()
	}

	return &CentroidMaintainer{logger: logger}
}

// Recompute sets the centroid of bucketID to the element-wise mean of its current member embeddings.
// A bucket without embedded members keeps its centroid.
func (m *CentroidMaintainer) Recompute(ctx context.Context, tx repository.ClusterTx, bucketID uuid.UUID) error {
	vectors, err := tx.MemberEmbeddings(ctx, bucketID)
	if err != nil {
		return fmt.Errorf("load member embeddings: %w", err)
	}

	if len(vectors) == 0 {
		m.logger.WarnContext(ctx, "centroid: bucket has no embedded members, keeping centroid", "bucket_id", bucketID)

		return nil
	}

	mean, err := embeddings.Mean(vectors)
	if err != nil {
		return fmt.Errorf("mean of member embeddings: %w", err)
	}

	if err := tx.UpdateCentroid(ctx, bucketID, mean); err != nil {
		return fmt.Errorf("store centroid: %w", err)
	}

	m.logger.DebugContext(ctx, "centroid: recomputed", "bucket_id", bucketID, "members", len(vectors))

	return nil
}
