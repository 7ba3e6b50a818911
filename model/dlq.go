package model

import "time"

// Default and maximum page sizes for DLQ listings.
const (
	DefaultDLQLimit = 100
	MaxDLQLimit     = 1000
)

// DLQFilter selects dead-lettered deliveries. Zero values are ignored.
type DLQFilter struct {
	SubscriptionID string
	EventType      string
	Reason         DeadLetterReason
	Since          time.Time // dead_lettered_at >= Since
	Until          time.Time // dead_lettered_at < Until
	Limit          int
	Offset         int
}

// Normalized returns the filter with its page bounds clamped.
func (f DLQFilter) Normalized() DLQFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultDLQLimit
	}
	if f.Limit > MaxDLQLimit {
		f.Limit = MaxDLQLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// DLQStats is an aggregate view of the dead-letter queue for dashboards and alerts.
type DLQStats struct {
	Total           int            `json:"total"`
	BySubscription  map[string]int `json:"bySubscription"`
	ByErrorCategory map[string]int `json:"byErrorCategory"`
	ByReason        map[string]int `json:"byReason"`
	Oldest          *time.Time     `json:"oldest,omitempty"`
	Newest          *time.Time     `json:"newest,omitempty"`
}

// NewDLQStats returns empty stats with initialized maps.
func NewDLQStats() DLQStats {
	return DLQStats{
		BySubscription:  map[string]int{},
		ByErrorCategory: map[string]int{},
		ByReason:        map[string]int{},
	}
}
