package model

import "strings"

// FilterKind is the resolved form of a subscription's event type filter.
type FilterKind string

const (
	// FilterExact matches a single event type.
	FilterExact FilterKind = "exact"

	// FilterPrefixWildcard matches every event type under a dot-delimited prefix.
	FilterPrefixWildcard FilterKind = "prefix"
)

// Filter errors.
var (
	ErrEmptyFilter   = DomainError{Code: "EMPTY_FILTER", Message: "event filter must not be empty"}
	ErrInvalidFilter = DomainError{Code: "INVALID_FILTER", Message: "event filter must be an event type or end with a \".*\" segment"}
)

// EventFilter selects the event types a subscription receives. It is resolved
// once, when the subscription is written, so matching never re-parses patterns.
//
//	Exact("user.created")      matches only "user.created"
//	PrefixWildcard("user.")    matches "user.created", "user.profile.updated"
//	PrefixWildcard("")         matches every event type
type EventFilter struct {
	Kind  FilterKind
	Value string
}

// Exact returns a filter matching exactly eventType.
func Exact(eventType string) EventFilter {
	return EventFilter{Kind: FilterExact, Value: eventType}
}

// PrefixWildcard returns a filter matching any event type that starts with prefix
// and continues past it. A non-empty prefix ends with ".".
func PrefixWildcard(prefix string) EventFilter {
	return EventFilter{Kind: FilterPrefixWildcard, Value: prefix}
}

// ParseEventFilter resolves a pattern such as "order.paid", "order.*" or "*".
// A "*" is only accepted as the whole last segment.
func ParseEventFilter(pattern string) (EventFilter, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return EventFilter{}, ErrEmptyFilter
	}
	if pattern == "*" {
		return PrefixWildcard(""), nil
	}

	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		if !ValidEventType(strings.TrimSuffix(prefix, ".")) {
			return EventFilter{}, ErrInvalidFilter
		}
		return PrefixWildcard(prefix), nil
	}

	if !ValidEventType(pattern) {
		return EventFilter{}, ErrInvalidFilter
	}
	return Exact(pattern), nil
}

// Matches reports whether eventType is selected by the filter.
func (f EventFilter) Matches(eventType string) bool {
	switch f.Kind {
	case FilterExact:
		return eventType == f.Value
	case FilterPrefixWildcard:
		return len(eventType) > len(f.Value) && strings.HasPrefix(eventType, f.Value)
	default:
		return false
	}
}

// String renders the filter back to its pattern form.
func (f EventFilter) String() string {
	if f.Kind == FilterPrefixWildcard {
		return f.Value + "*"
	}
	return f.Value
}
