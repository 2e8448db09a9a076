package models

import (
	"time"

	"github.com/google/uuid"
)

// Embedding is the single vector stored for a feature request (one row per request).
type Embedding struct {
	FeatureRequestID uuid.UUID `json:"feature_request_id"`
	Embedding        []float32 `json:"embedding"`
	Model            string    `json:"model"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
