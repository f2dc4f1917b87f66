package models

import "time"

// EventType — вид события жизненного цикла, он же routing key в RabbitMQ.
type EventType string

const (
	EventProvisioned EventType = "provisioned"
	EventUpgraded    EventType = "upgraded"
	EventRenewed     EventType = "renewed"
	EventRepaired    EventType = "repaired"
	EventDegraded    EventType = "degraded"
	EventPurged      EventType = "purged"
)

// Event — сообщение о совершённом переходе подписки.
type Event struct {
	Type       EventType `json:"type"`
	UserID     int64     `json:"user_id"`
	Email      string    `json:"email,omitempty"`
	ServerID   string    `json:"server_id,omitempty"`
	AccessURL  string    `json:"access_url,omitempty"`
	Plan       int       `json:"plan"`
	ExpiresAt  time.Time `json:"expires_at"`
	OccurredAt time.Time `json:"occurred_at"`
}
