package models

import (
	"time"
)

// WebhookEndpoint is a configured receiver of gateway events
type WebhookEndpoint struct {
	URL    string   `json:"url" mapstructure:"url"`
	Secret string   `json:"-" mapstructure:"secret"`
	Events []string `json:"events" mapstructure:"events"`
}

// Subscribes reports whether the endpoint wants the given event. An endpoint
// without an event list receives everything.
func (e WebhookEndpoint) Subscribes(event string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event || ev == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery represents a webhook delivery attempt
type WebhookDelivery struct {
	ID          string     `json:"id"`
	EndpointURL string     `json:"endpointUrl"`
	Event       string     `json:"event"`
	Payload     []byte     `json:"-"`
	Status      string     `json:"status"`
	StatusCode  int        `json:"statusCode"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"lastError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookEvent represents the payload sent to webhooks
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventExportCompleted   = "export.completed"
	WebhookEventExportFailed      = "export.failed"
	WebhookEventLibraryRegistered = "library.registered"
)
