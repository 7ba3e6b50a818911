package model

import "time"

// WebhookPayload is the JSON body POSTed to subscription targets.
type WebhookPayload struct {
	ID         string    `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	EventType  string    `json:"event_type"`
	Source     string    `json:"source"`
	Data       Payload   `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewWebhookPayload builds the outbound body for delivery d of event e.
func NewWebhookPayload(e Event, d Delivery) WebhookPayload {
	return WebhookPayload{
		ID:         e.ID,
		DeliveryID: d.ID,
		EventType:  e.EventType,
		Source:     e.Source,
		Data:       e.Payload,
		CreatedAt:  e.CreatedAt.UTC(),
	}
}
