package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEventFilter(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected EventFilter
		err      error
	}{
		{name: "Exact type", pattern: "user.created", expected: Exact("user.created")},
		{name: "Single segment", pattern: "ping", expected: Exact("ping")},
		{name: "Trailing wildcard", pattern: "user.*", expected: PrefixWildcard("user.")},
		{name: "Nested wildcard", pattern: "billing.invoice.*", expected: PrefixWildcard("billing.invoice.")},
		{name: "Match everything", pattern: "*", expected: PrefixWildcard("")},
		{name: "Surrounding spaces", pattern: "  order.paid ", expected: Exact("order.paid")},
		{name: "Empty", pattern: "", err: ErrEmptyFilter},
		{name: "Blank", pattern: "   ", err: ErrEmptyFilter},
		{name: "Star glued to segment", pattern: "user*", err: ErrInvalidFilter},
		{name: "Star in the middle", pattern: "user.*.created", err: ErrInvalidFilter},
		{name: "Leading wildcard", pattern: "*.created", err: ErrInvalidFilter},
		{name: "Bare dot wildcard", pattern: ".*", err: ErrInvalidFilter},
		{name: "Empty segment", pattern: "user..created", err: ErrInvalidFilter},
		{name: "Illegal characters", pattern: "user created", err: ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseEventFilter(tt.pattern)
			if tt.err != nil {
				assert.Equal(t, tt.err, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, f)
		})
	}
}

func TestEventFilter_Matches(t *testing.T) {
	tests := []struct {
		name      string
		filter    EventFilter
		eventType string
		expected  bool
	}{
		{name: "Exact hit", filter: Exact("user.created"), eventType: "user.created", expected: true},
		{name: "Exact miss", filter: Exact("user.created"), eventType: "user.deleted", expected: false},
		{name: "Exact does not prefix-match", filter: Exact("user"), eventType: "user.created", expected: false},
		{name: "Wildcard direct child", filter: PrefixWildcard("user."), eventType: "user.created", expected: true},
		{name: "Wildcard deep child", filter: PrefixWildcard("user."), eventType: "user.profile.updated", expected: true},
		{name: "Wildcard requires a suffix", filter: PrefixWildcard("user."), eventType: "user.", expected: false},
		{name: "Wildcard does not match parent", filter: PrefixWildcard("user."), eventType: "user", expected: false},
		{name: "Wildcard respects segment boundary", filter: PrefixWildcard("user."), eventType: "username.changed", expected: false},
		{name: "Match-all", filter: PrefixWildcard(""), eventType: "anything.at.all", expected: true},
		{name: "Unknown kind", filter: EventFilter{Kind: "regex", Value: ".*"}, eventType: "user.created", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.filter.Matches(tt.eventType))
		})
	}
}

func TestEventFilter_StringRoundTrip(t *testing.T) {
	for _, pattern := range []string{"user.created", "user.*", "*", "a.b.c.*"} {
		f, err := ParseEventFilter(pattern)
		assert.NoError(t, err)
		assert.Equal(t, pattern, f.String())
	}
}
