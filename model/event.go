package model

import (
	"bytes"
	"database/sql"
	"time"
)

// EventStatus represents the lifecycle state of an accepted event.
type EventStatus string

const (
	// EventStatusAccepted indicates the event is stored but not yet fanned out.
	EventStatusAccepted EventStatus = "accepted"

	// EventStatusMatched indicates deliveries were created and at least one is still in progress.
	EventStatusMatched EventStatus = "matched"

	// EventStatusExhausted indicates every delivery reached a terminal state,
	// or no subscription matched.
	EventStatusExhausted EventStatus = "exhausted"
)

// Event is an application event accepted for delivery.
//
// Its content (source, type, key, payload) never changes after creation.
// Only Status and DeliveryCount move as the pipeline progresses:
//
//	accepted → matched → exhausted
//	accepted → exhausted (no matching subscription)
type Event struct {
	ID             string         `json:"id" db:"id"`
	Source         string         `json:"source" db:"source"`
	EventType      string         `json:"eventType" db:"event_type"`
	IdempotencyKey sql.NullString `json:"-" db:"idempotency_key"`
	Payload        Payload        `json:"payload" db:"payload"`
	Status         EventStatus    `json:"status" db:"status"`
	DeliveryCount  int            `json:"deliveryCount" db:"delivery_count"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Event.
func (e Event) TableName() string {
	return tablePrefix + "events"
}

// NewEvent creates an accepted event. An empty idempotencyKey is stored as NULL.
func NewEvent(source, idempotencyKey, eventType string, payload []byte, now time.Time) Event {
	return Event{
		ID:             NewID(EventIDPrefix),
		Source:         source,
		EventType:      eventType,
		IdempotencyKey: sql.NullString{String: idempotencyKey, Valid: idempotencyKey != ""},
		Payload:        Payload(payload),
		Status:         EventStatusAccepted,
		DeliveryCount:  0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SameContent reports whether a resubmission carries the same type and payload bytes.
func (e Event) SameContent(eventType string, payload []byte) bool {
	return e.EventType == eventType && bytes.Equal(e.Payload, payload)
}

// IsTerminal reports whether every delivery of the event has finished.
func (e Event) IsTerminal() bool {
	return e.Status == EventStatusExhausted
}

// EventQuery filters event listings. Zero values are ignored.
type EventQuery struct {
	Source    string
	EventType string
	Status    EventStatus
	Limit     int
}
