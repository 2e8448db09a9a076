// Package datatypes defines shared enums (e.g. bucket activity types).
package datatypes

import (
	"errors"
	"fmt"
)

// ErrInvalidActivityType is returned when an activity type string is not known.
var ErrInvalidActivityType = errors.New("invalid activity type")

// ActivityType is a bucket activity entry type.
// Use String() to get the representation stored in the database.
type ActivityType uint16

// Activity type constants; string form is given in activityTypeMap.
const (
	BucketCreated ActivityType = iota + 1
	StatusChange
	RequestMoved
)

// activityTypeMap is the single source of truth for valid activity type strings.
var activityTypeMap = map[string]ActivityType{
	"bucket_created": BucketCreated,
	"status_change":  StatusChange,
	"request_moved":  RequestMoved,
}

// reverseActivityTypeMap is built at init time from activityTypeMap.
var reverseActivityTypeMap map[ActivityType]string

func init() {
	reverseActivityTypeMap = make(map[ActivityType]string, len(activityTypeMap))
	for str, at := range activityTypeMap {
		reverseActivityTypeMap[at] = str
	}
}

// String returns the stored representation, or "" for an unknown value.
func (at ActivityType) String() string {
	return reverseActivityTypeMap[at]
}

// ParseActivityType converts a stored string to an ActivityType.
func ParseActivityType(s string) (ActivityType, error) {
	at, ok := activityTypeMap[s]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidActivityType, s)
	}

	return at, nil
}

// AllActivityTypes returns every valid activity type string (for metric label bounds).
// The order is not guaranteed.
func AllActivityTypes() []string {
	types := make([]string, 0, len(activityTypeMap))
	for k := range activityTypeMap {
		types = append(types, k)
	}

	return types
}
