package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeatureRequest is a user-submitted request. Only BucketID is written by the clustering engine.
type FeatureRequest struct {
	ID          uuid.UUID  `json:"id"`
	TenantID    string     `json:"tenant_id"`
	UserID      *string    `json:"user_id,omitempty"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      string     `json:"status"`
	BucketID    *uuid.UUID `json:"bucket_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ClassificationText is the text embedded for clustering: title, then description on its own line.
func (r *FeatureRequest) ClassificationText() string {
	title := strings.TrimSpace(r.Title)
	if r.Description == nil {
		return title
	}

	desc := strings.TrimSpace(*r.Description)
	if desc == "" {
		return title
	}

	return title + "\n" + desc
}

// Exemplar returns the request as a labeling exemplar.
func (r *FeatureRequest) Exemplar() Exemplar {
	ex := Exemplar{Title: r.Title}
	if r.Description != nil {
		ex.Description = *r.Description
	}

	return ex
}

// Exemplar is a representative (title, description) pair fed to the labeling generator.
type Exemplar struct {
	Title       string
	Description string
}

// ClassificationResult is returned by the process-embedding endpoint.
type ClassificationResult struct {
	FeatureID        uuid.UUID `json:"feature_id"`
	BucketID         uuid.UUID `json:"bucket_id"`
	CreatedNewBucket bool      `json:"created_new_bucket"`
}

// EnqueueClassificationResponse is returned when classification is queued instead of run inline.
type EnqueueClassificationResponse struct {
	FeatureID uuid.UUID `json:"feature_id"`
	JobID     int64     `json:"job_id"`
	Duplicate bool      `json:"duplicate"`
}
