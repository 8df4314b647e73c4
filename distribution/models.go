package distribution

import (
	"time"

	"rfqflow/payload"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusViewed    Status = "viewed"
	StatusResponded Status = "responded"
	StatusFailed    Status = "failed"
)

// allowedFrom lists, per target status, the statuses a write may move from.
// Statuses only ever move forward; re-applying delivered, viewed or failed
// refreshes their timestamps.
var allowedFrom = map[Status][]Status{
	StatusDelivered: {StatusPending, StatusFailed, StatusDelivered},
	StatusFailed:    {StatusPending, StatusFailed},
	StatusViewed:    {StatusDelivered, StatusViewed},
	StatusResponded: {StatusDelivered, StatusViewed},
}

// CanTransition reports whether a write of to applies to a record in from.
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Reached reports whether the distribution has been delivered at least once.
func (s Status) Reached() bool {
	switch s {
	case StatusDelivered, StatusViewed, StatusResponded:
		return true
	default:
		return false
	}
}

// Distribution records one trip request sent to one agency.
type Distribution struct {
	ID            string
	TripRequestID string
	AgencyID      string
	Status        Status
	Payload       payload.Payload
	LegacyTarget  *string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
	ViewedAt      *time.Time
	RespondedAt   *time.Time
}

// Stats counts a request's distributions by status.
type Stats struct {
	TripRequestID string `json:"trip_request_id"`
	Total         int    `json:"total"`
	Pending       int    `json:"pending"`
	Delivered     int    `json:"delivered"`
	Viewed        int    `json:"viewed"`
	Responded     int    `json:"responded"`
	Failed        int    `json:"failed"`
}

const (
	SkipAlreadyDistributed = "already_distributed"
	SkipNoMatch            = "no_match"
)

// Result of Distribute. Skipped is set when nothing was created.
type Result struct {
	TotalMatched    int      `json:"total_matched"`
	DistributionIDs []string `json:"distribution_ids"`
	AgencyIDs       []string `json:"agency_ids"`
	Skipped         string   `json:"skipped,omitempty"`
}

func emptyResult(reason string) Result {
	return Result{DistributionIDs: []string{}, AgencyIDs: []string{}, Skipped: reason}
}
