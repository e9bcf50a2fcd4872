// Package webhooks delivers anchoring lifecycle events to subscribed
// HTTP endpoints, signed with a per-subscription HMAC secret.
package webhooks

import (
	"time"

	"github.com/google/uuid"

	"github.com/paystream-io/auditanchor/internal/anchor"
)

// Event types dispatched by the anchoring pipeline.
const (
	EventBatchAnchored      = anchor.EventBatchAnchored
	EventVerificationFailed = anchor.EventVerificationFailed
	EventOracleDegraded     = anchor.EventOracleDegraded
)

// KnownEvent reports whether eventType is one the pipeline dispatches.
func KnownEvent(eventType string) bool {
	switch eventType {
	case EventBatchAnchored, EventVerificationFailed, EventOracleDegraded:
		return true
	}
	return false
}

// Subscription is a registered delivery target for pipeline events.
type Subscription struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	URL       string    `json:"url"        db:"url"`
	Events    []string  `json:"events"     db:"events"`
	Secret    string    `json:"-"          db:"secret"` // never returned in API responses
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is the payload POSTed to matching subscriptions.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	EventType      string    `json:"event_type"      db:"event_type"`
	StatusCode     int       `json:"status_code"     db:"status_code"`
	Attempt        int       `json:"attempt"         db:"attempt"`
	Success        bool      `json:"success"         db:"success"`
	ErrorMessage   string    `json:"error_message"   db:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"    db:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}
