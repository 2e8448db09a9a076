// Package jobs provides the River job arguments, enqueueing and error handling for async classification.
package jobs

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

const (
	classifyFeatureRequestKind = "classify_feature_request"
	// ClassificationQueueName is the River queue used for classification jobs.
	ClassificationQueueName = "classification"
)

// ClassifyFeatureRequestArgs is the job payload for classifying one feature request.
// Uniqueness is by FeatureRequestID so repeated submissions of a request do not create duplicate jobs.
type ClassifyFeatureRequestArgs struct {
	FeatureRequestID uuid.UUID `json:"feature_request_id" river:"unique"`
}

// Kind returns the River job kind.
func (ClassifyFeatureRequestArgs) Kind() string { return classifyFeatureRequestKind }

var _ river.JobArgs = ClassifyFeatureRequestArgs{}

// uniqueStates dedupe against jobs that have not finished yet. Completed jobs are left out so a
// request can be classified again later. JobStatePending is required by River when using ByState.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStatePending,
	rivertype.JobStateAvailable,
	rivertype.JobStateRunning,
	rivertype.JobStateRetryable,
	rivertype.JobStateScheduled,
}
