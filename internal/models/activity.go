package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BucketActivity is one append-only audit entry of a bucket. UserID is nil for system entries.
type BucketActivity struct {
	ID        uuid.UUID       `json:"id"`
	BucketID  uuid.UUID       `json:"bucket_id"`
	UserID    *string         `json:"user_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewBucketActivity is an activity entry to append.
type NewBucketActivity struct {
	BucketID uuid.UUID
	UserID   *string
	Type     string
	Payload  any
}

// BucketCreatedPayload is recorded when classification spawns a bucket.
type BucketCreatedPayload struct {
	FeatureRequestID *uuid.UUID `json:"feature_request_id,omitempty"`
	Source           string     `json:"source"`
	LabelFallback    bool       `json:"label_fallback,omitempty"`
}

// StatusChangePayload is recorded when an update changes the bucket status.
type StatusChangePayload struct {
	Old  BucketStatus `json:"old"`
	New  BucketStatus `json:"new"`
	Note *string      `json:"note,omitempty"`
}

// RequestMovedPayload is recorded on the receiving bucket when reclassification moves a request.
type RequestMovedPayload struct {
	FeatureRequestID uuid.UUID `json:"feature_request_id"`
	FromBucketID     uuid.UUID `json:"from_bucket_id"`
	Similarity       float64   `json:"similarity"`
}
