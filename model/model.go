// Package model contains the domain models of the hookrelay delivery pipeline:
// events, subscriptions, deliveries and their attempts.
//
// Models carry their own state transitions (Subscription.Pause, Delivery.RetryStrategy,
// Attempt.Fail, ...) so services and repositories share one definition of each rule.
package model

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const tablePrefix = "hookrelay_"

// ID prefixes for each record type.
const (
	EventIDPrefix        = "evt"
	SubscriptionIDPrefix = "sub"
	DeliveryIDPrefix     = "dlv"
	AttemptIDPrefix      = "att"
)

// NewID returns a time-ordered identifier such as "evt_01925f0c3b7a7c3e9a4d2f1b6c8e0a11".
// The suffix is a UUIDv7, so ids sort by creation time.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + hex.EncodeToString(id[:])
}

var eventTypePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// ValidEventType reports whether s is a dot-delimited event type such as "user.created".
func ValidEventType(s string) bool {
	return eventTypePattern.MatchString(s)
}

// DomainError represents a domain-level business rule violation.
type DomainError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
}

func (e DomainError) Error() string {
	return e.Message
}

// Payload holds an event's JSON document exactly as accepted.
// It is stored as text so that replays compare byte-for-byte.
type Payload []byte

// MarshalJSON embeds the payload verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return string(p), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(Payload(nil), v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("model: cannot scan %T into Payload", src)
	}
	return nil
}

// Headers are extra HTTP headers sent with every delivery of a subscription.
type Headers map[string]string

// Value implements driver.Valuer, storing headers as a JSON object.
func (h Headers) Value() (driver.Value, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *Headers) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = Headers{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("model: cannot scan %T into Headers", src)
	}
	out := Headers{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("model: decode headers: %w", err)
		}
	}
	*h = out
	return nil
}
