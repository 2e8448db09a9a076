package service

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formbricks/buckets/internal/huberrors"
	"github.com/formbricks/buckets/internal/models"
	"github.com/formbricks/buckets/internal/repository"
	"github.com/formbricks/buckets/pkg/embeddings"
)

// errTxAborted mirrors Postgres SQLSTATE 25P02: after a failed statement every later one in the
// transaction fails until it rolls back to a savepoint.
var errTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

// memStore is an in-memory stand-in for the Postgres repositories and ClusterStore.
// Transactions are serialized and roll back on error. A failed NearestBucket aborts the
// transaction the way Postgres does.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	requests   map[uuid.UUID]*models.FeatureRequest
	embeddings map[uuid.UUID][]float32
	buckets    map[uuid.UUID]*models.Bucket
	activity   []models.BucketActivity

	upserts int

	nearestFunc       func(tenantID string, vector []float32) (*models.BucketMatch, error)
	updateCentroidErr error
	lockedTenants     []string

	aborted bool
}

func newMemStore() *memStore {
	return &memStore{
		requests:   map[uuid.UUID]*models.FeatureRequest{},
		embeddings: map[uuid.UUID][]float32{},
		buckets:    map[uuid.UUID]*models.Bucket{},
	}
}

var _ repository.ClusterTx = (*memStore)(nil)

type memSnapshot struct {
	requests   map[uuid.UUID]*models.FeatureRequest
	embeddings map[uuid.UUID][]float32
	buckets    map[uuid.UUID]*models.Bucket
	activity   []models.BucketActivity
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		requests:   make(map[uuid.UUID]*models.FeatureRequest, len(s.requests)),
		embeddings: maps.Clone(s.embeddings),
		buckets:    make(map[uuid.UUID]*models.Bucket, len(s.buckets)),
		activity:   slices.Clone(s.activity),
	}

	for id, r := range s.requests {
		c := *r
		snap.requests[id] = &c
	}

	for id, b := range s.buckets {
		c := *b
		c.Centroid = slices.Clone(b.Centroid)
		snap.buckets[id] = &c
	}

	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = snap.requests
	s.embeddings = snap.embeddings
	s.buckets = snap.buckets
	s.activity = snap.activity
}

func (s *memStore) run(fn func(repository.ClusterTx) error) error {
	s.setAborted(false)
	defer s.setAborted(false)

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)

		return err
	}

	if s.isAborted() {
		s.restore(snap)

		return errTxAborted
	}

	return nil
}

func (s *memStore) setAborted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aborted = v
}

func (s *memStore) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aborted
}

func (s *memStore) InTx(_ context.Context, fn func(repository.ClusterTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.run(fn)
}

func (s *memStore) WithTenantLock(_ context.Context, tenantID string, fn func(repository.ClusterTx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.lockedTenants = append(s.lockedTenants, tenantID)
	s.mu.Unlock()

	return s.run(fn)
}

func (s *memStore) Savepoint(_ context.Context, fn func(repository.ClusterTx) error) error {
	if s.isAborted() {
		return errTxAborted
	}

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		s.setAborted(false)

		return err
	}

	// RELEASE SAVEPOINT fails when fn swallowed a statement error.
	if s.isAborted() {
		return errTxAborted
	}

	return nil
}

func (s *memStore) addRequest(tenantID, title string, description *string) *models.FeatureRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &models.FeatureRequest{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Title:       title,
		Description: description,
		Status:      "open",
		CreatedAt:   time.Now(),
	}
	s.requests[r.ID] = r

	return r
}

func (s *memStore) bucketOf(requestID uuid.UUID) *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[requestID].BucketID
}

func (s *memStore) bucketCount(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, b := range s.buckets {
		if b.TenantID == tenantID {
			n++
		}
	}

	return n
}

func (s *memStore) bucket(id uuid.UUID) *models.Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buckets[id]
}

func (s *memStore) activityOf(bucketID uuid.UUID, typ string) []models.BucketActivity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.BucketActivity

	for _, a := range s.activity {
		if a.BucketID == bucketID && a.Type == typ {
			out = append(out, a)
		}
	}

	return out
}

// FeatureRequestReader

func (s *memStore) GetFeatureRequest(_ context.Context, id uuid.UUID) (*models.FeatureRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("feature_request", "feature request not found")
	}

	c := *r

	return &c, nil
}

// EmbeddingWriter

func (s *memStore) UpsertEmbedding(_ context.Context, id uuid.UUID, _ string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	s.embeddings[id] = slices.Clone(vector)

	return nil
}

// ClusterTx

func (s *memStore) NearestBucket(_ context.Context, tenantID string, vector []float32) (*models.BucketMatch, error) {
	if s.nearestFunc != nil {
		match, err := s.nearestFunc(tenantID, vector)
		if err != nil {
			s.setAborted(true)
		}

		return match, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	var best *models.BucketMatch

	for _, b := range s.buckets {
		if b.TenantID != tenantID || b.Centroid == nil {
			continue
		}

		sim := embeddings.CosineSimilarity(vector, b.Centroid)
		if best == nil || sim > best.Similarity {
			best = &models.BucketMatch{BucketID: b.ID, Title: b.Title, Similarity: sim}
		}
	}

	return best, nil
}

func (s *memStore) CreateBucket(_ context.Context, nb *models.NewBucket) (*models.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	now := time.Now()
	b := &models.Bucket{
		ID:          uuid.New(),
		TenantID:    nb.TenantID,
		Title:       nb.Title,
		Summary:     nb.Summary,
		Description: nb.Description,
		Centroid:    slices.Clone(nb.Centroid),
		Status:      nb.Status,
		Priority:    nb.Priority,
		Tags:        nb.Tags,
		GoalVotes:   nb.GoalVotes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if b.Status == "" {
		b.Status = models.BucketStatusBacklog
	}

	if b.Priority == "" {
		b.Priority = models.BucketPriorityLow
	}

	if b.GoalVotes == 0 {
		b.GoalVotes = models.DefaultGoalVotes
	}

	if b.Tags == nil {
		b.Tags = []string{}
	}

	s.buckets[b.ID] = b
	c := *b

	return &c, nil
}

func (s *memStore) GetBucketForUpdate(_ context.Context, id uuid.UUID) (*models.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	b, ok := s.buckets[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	c := *b

	return &c, nil
}

func (s *memStore) UpdateBucket(
	_ context.Context, id uuid.UUID, req *models.UpdateBucketRequest, shippedAt *time.Time,
) (*models.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	b, ok := s.buckets[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	if req.Title != nil {
		b.Title = *req.Title
	}

	if req.Summary != nil {
		b.Summary = req.Summary
	}

	if req.Status != nil {
		b.Status = *req.Status
	}

	if req.Priority != nil {
		b.Priority = *req.Priority
	}

	if req.TargetVersion != nil {
		b.TargetVersion = req.TargetVersion
	}

	if req.GoalVotes != nil {
		b.GoalVotes = *req.GoalVotes
	}

	if req.Tags != nil {
		b.Tags = req.Tags
	}

	if shippedAt != nil {
		b.ShippedAt = shippedAt
	}

	b.UpdatedAt = time.Now()
	c := *b

	return &c, nil
}

func (s *memStore) DeleteBucket(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return errTxAborted
	}

	if _, ok := s.buckets[id]; !ok {
		return huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	delete(s.buckets, id)

	return nil
}

func (s *memStore) AssignRequest(_ context.Context, requestID, bucketID uuid.UUID) (*uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	r, ok := s.requests[requestID]
	if !ok {
		return nil, huberrors.NewNotFoundError("feature_request", "feature request not found")
	}

	prev := r.BucketID
	id := bucketID
	r.BucketID = &id

	return prev, nil
}

func (s *memStore) UnassignMembers(_ context.Context, bucketID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return 0, errTxAborted
	}

	var n int64

	for _, r := range s.requests {
		if r.BucketID != nil && *r.BucketID == bucketID {
			r.BucketID = nil
			n++
		}
	}

	return n, nil
}

func (s *memStore) MemberEmbeddings(_ context.Context, bucketID uuid.UUID) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	var out [][]float32

	for id, r := range s.requests {
		if r.BucketID == nil || *r.BucketID != bucketID {
			continue
		}

		if v, ok := s.embeddings[id]; ok {
			out = append(out, slices.Clone(v))
		}
	}

	return out, nil
}

func (s *memStore) UpdateCentroid(_ context.Context, bucketID uuid.UUID, centroid []float32) error {
	if s.updateCentroidErr != nil {
		return s.updateCentroidErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return errTxAborted
	}

	b, ok := s.buckets[bucketID]
	if !ok {
		return huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	b.Centroid = slices.Clone(centroid)

	return nil
}

func (s *memStore) AppendActivity(_ context.Context, a *models.NewBucketActivity) (*models.BucketActivity, error) {
	payload := []byte("{}")

	if a.Payload != nil {
		var err error

		payload, err = json.Marshal(a.Payload)
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return nil, errTxAborted
	}

	out := models.BucketActivity{
		ID:        uuid.New(),
		BucketID:  a.BucketID,
		UserID:    a.UserID,
		Type:      a.Type,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	s.activity = append(s.activity, out)

	return &out, nil
}

// BucketsReader and ActivityReader

func (s *memStore) GetBucket(_ context.Context, id uuid.UUID) (*models.BucketWithStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[id]
	if !ok {
		return nil, huberrors.NewNotFoundError("bucket", "bucket not found")
	}

	out := &models.BucketWithStats{Bucket: *b}

	for _, r := range s.requests {
		if r.BucketID != nil && *r.BucketID == id {
			out.RequestCount++
		}
	}

	return out, nil
}

func (s *memStore) ListBuckets(_ context.Context, filters *models.ListBucketsFilters) ([]models.BucketWithStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.BucketWithStats{}

	for _, b := range s.buckets {
		if b.TenantID != filters.TenantID {
			continue
		}

		if filters.Status != nil && b.Status != *filters.Status {
			continue
		}

		out = append(out, models.BucketWithStats{Bucket: *b})
	}

	if len(out) > filters.Limit {
		out = out[:filters.Limit]
	}

	return out, nil
}

func (s *memStore) TopMembers(
	_ context.Context, bucketID uuid.UUID, _ *string, limit int,
) ([]models.BucketMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.BucketMember{}

	for _, r := range s.requests {
		if r.BucketID != nil && *r.BucketID == bucketID && len(out) < limit {
			out = append(out, models.BucketMember{ID: r.ID, Title: r.Title, Status: r.Status})
		}
	}

	return out, nil
}

func (s *memStore) ListRecentActivity(_ context.Context, bucketID uuid.UUID, limit int) ([]models.BucketActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.BucketActivity{}

	for i := len(s.activity) - 1; i >= 0 && len(out) < limit; i-- {
		if s.activity[i].BucketID == bucketID {
			out = append(out, s.activity[i])
		}
	}

	return out, nil
}

// fakeEmbedder returns fixed vectors per text and counts calls.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("fakeEmbedder: no vector for " + text)
	}

	return slices.Clone(v), nil
}

func (f *fakeEmbedder) Model() string { return "test-embedding" }

type mockLabeler struct {
	generateLabelFunc func(ctx context.Context, exemplars []models.Exemplar) (*models.BucketLabel, error)
}

func (m *mockLabeler) GenerateLabel(ctx context.Context, exemplars []models.Exemplar) (*models.BucketLabel, error) {
	return m.generateLabelFunc(ctx, exemplars)
}

// recordingMetrics captures the clustering metrics the service emits.
type recordingMetrics struct {
	mu                sync.Mutex
	outcomes          []string
	resolverFallbacks []string
	labelingFallbacks []string
	centroidErrors    int
}

func (m *recordingMetrics) RecordClassification(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) RecordResolverFallback(_ context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolverFallbacks = append(m.resolverFallbacks, reason)
}

func (m *recordingMetrics) RecordLabelingFallback(_ context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.labelingFallbacks = append(m.labelingFallbacks, reason)
}

func (m *recordingMetrics) RecordCentroidRecomputeError(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.centroidErrors++
}

func (m *recordingMetrics) RecordJobsEnqueued(context.Context, int64) {}

func (m *recordingMetrics) RecordEnqueueError(context.Context) {}

func (m *recordingMetrics) SetRiverQueueDepth(int) {}

func strPtr(s string) *string { return &s }
