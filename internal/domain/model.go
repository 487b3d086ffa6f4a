package domain

import (
	"database/sql"
	"time"
)

// EmailCaptured is the event the front-end publishes once a buyer has typed
// the email that should receive access.
type EmailCaptured struct {
	BuyerID   string `json:"buyer_id"`
	Email     string `json:"email"`
	Reference string `json:"reference,omitempty"`
}

type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

type Channel string

const (
	ChannelKafka Channel = "kafka"
	ChannelEmail Channel = "email"
)

// NotificationLog is one delivery attempt of a notification on one channel.
type NotificationLog struct {
	ID           string
	BuyerID      string
	Kind         NotificationKind
	Channel      Channel
	Recipient    string
	Status       DeliveryStatus
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}
