package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/models"
)

// EmbeddingsRepository handles data access for the feature_request_embeddings table.
type EmbeddingsRepository struct {
	db DBTX
}

// NewEmbeddingsRepository creates a new embeddings repository.
func NewEmbeddingsRepository(db DBTX) *EmbeddingsRepository {
	return &EmbeddingsRepository{db: db}
}

// UpsertEmbedding stores the vector for a feature request. There is one row per request;
// re-embedding replaces the vector and model.
func (r *EmbeddingsRepository) UpsertEmbedding(
	ctx context.Context, featureRequestID uuid.UUID, model string, embedding []float32,
) error {
	now := time.Now()

	_, err := r.db.Exec(ctx, `
		INSERT INTO feature_request_embeddings (feature_request_id, embedding, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (feature_request_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, model = EXCLUDED.model, updated_at = EXCLUDED.updated_at`,
		featureRequestID, vectorArg(embedding), model, now,
	)
	if err != nil {
		return fmt.Errorf("embeddings upsert: %w", err)
	}

	return nil
}

// GetEmbedding returns the stored embedding of a feature request.
func (r *EmbeddingsRepository) GetEmbedding(ctx context.Context, featureRequestID uuid.UUID) (*models.Embedding, error) {
	var (
		e   models.Embedding
		vec nullableEmbedding
	)

	err := r.db.QueryRow(ctx, `
		SELECT feature_request_id, embedding, model, created_at, updated_at
		FROM feature_request_embeddings
		WHERE feature_request_id = $1`,
		featureRequestID,
	).Scan(&e.FeatureRequestID, &vec, &e.Model, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NewNotFoundError("embedding", "embedding not found")
		}

		return nil, fmt.Errorf("embeddings get: %w", err)
	}

	e.Embedding = vec

	return &e, nil
}

// MemberEmbeddings returns the embeddings of every request currently assigned to a bucket.
// Requests without a stored embedding are skipped.
func (r *EmbeddingsRepository) MemberEmbeddings(ctx context.Context, bucketID uuid.UUID) ([][]float32, error) {
	rows, err := r.db.Query(ctx, `
		SELECT e.embedding
		FROM feature_requests fr
		JOIN feature_request_embeddings e ON e.feature_request_id = fr.id
		WHERE fr.bucket_id = $1
		ORDER BY fr.id`,
		bucketID,
	)
	if err != nil {
		return nil, fmt.Errorf("member embeddings: %w", err)
	}
	defer rows.Close()

	var out [][]float32

	for rows.Next() {
		var vec nullableEmbedding
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("member embeddings scan: %w", err)
		}

		if len(vec) > 0 {
			out = append(out, vec)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("member embeddings rows: %w", err)
	}

	return out, nil
}
