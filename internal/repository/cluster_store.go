package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/formbricks/buckets/internal/models"
)

// tenantLockNamespace prefixes the advisory lock key so it cannot collide with other lock users.
const tenantLockNamespace = "bucket_clustering:"

// ClusterTx is the transactional view of the store used by clustering and bucket administration.
type ClusterTx interface {
	NearestBucket(ctx context.Context, tenantID string, vector []float32) (*models.BucketMatch, error)
	CreateBucket(ctx context.Context, nb *models.NewBucket) (*models.Bucket, error)
	GetBucketForUpdate(ctx context.Context, id uuid.UUID) (*models.Bucket, error)
	UpdateBucket(
		ctx context.Context, id uuid.UUID, req *models.UpdateBucketRequest, shippedAt *time.Time,
	) (*models.Bucket, error)
	DeleteBucket(ctx context.Context, id uuid.UUID) error
	AssignRequest(ctx context.Context, requestID, bucketID uuid.UUID) (*uuid.UUID, error)
	UnassignMembers(ctx context.Context, bucketID uuid.UUID) (int64, error)
	MemberEmbeddings(ctx context.Context, bucketID uuid.UUID) ([][]float32, error)
	UpdateCentroid(ctx context.Context, bucketID uuid.UUID, centroid []float32) error
	AppendActivity(ctx context.Context, a *models.NewBucketActivity) (*models.BucketActivity, error)

	// Savepoint runs fn in a nested transaction. An error from fn rolls back only fn's writes.
	Savepoint(ctx context.Context, fn func(ClusterTx) error) error
}

// ClusterStore opens transactions over the clustering tables.
type ClusterStore struct {
	pool *pgxpool.Pool
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(pool *pgxpool.Pool) *ClusterStore {
	return &ClusterStore{pool: pool}
}

// InTx runs fn in a transaction, committing when fn returns nil.
func (s *ClusterStore) InTx(ctx context.Context, fn func(ClusterTx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(newClusterTx(tx))
	})
}

// WithTenantLock runs fn in a transaction holding the tenant's clustering lock.
// Resolve-then-create for one tenant is serialized; other tenants proceed in parallel.
// The lock is released when the transaction ends.
func (s *ClusterStore) WithTenantLock(ctx context.Context, tenantID string, fn func(ClusterTx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			tenantLockNamespace+tenantID,
		); err != nil {
			return fmt.Errorf("acquire tenant clustering lock: %w", err)
		}

		return fn(newClusterTx(tx))
	})
}

type clusterTx struct {
	*BucketsRepository
	*FeatureRequestsRepository
	*EmbeddingsRepository
	*ActivityRepository

	tx pgx.Tx
}

func newClusterTx(tx pgx.Tx) *clusterTx {
	return &clusterTx{
		BucketsRepository:         NewBucketsRepository(tx),
		FeatureRequestsRepository: NewFeatureRequestsRepository(tx),
		EmbeddingsRepository:      NewEmbeddingsRepository(tx),
		ActivityRepository:        NewActivityRepository(tx),
		tx:                        tx,
	}
}

func (c *clusterTx) Savepoint(ctx context.Context, fn func(ClusterTx) error) error {
	return pgx.BeginFunc(ctx, c.tx, func(sp pgx.Tx) error {
		return fn(newClusterTx(sp))
	})
}
