package domain

type NotificationKind string

const (
	NotifyEmailRequest   NotificationKind = "email_request"
	NotifyInvoiceExpired NotificationKind = "invoice_expired"
	NotifyInviteSent     NotificationKind = "invite_sent"
	NotifyInviteFailed   NotificationKind = "invite_failed"
	NotifyReminder       NotificationKind = "expiry_reminder"
	NotifyAccessExpired  NotificationKind = "access_expired"
	NotifyInviteResent   NotificationKind = "invite_resent"
	NotifyAdminAlert     NotificationKind = "admin_alert"
)

// Notification is a message toward the front-end for one buyer. Email, when
// set, also receives a copy.
type Notification struct {
	BuyerID string           `json:"buyer_id"`
	Kind    NotificationKind `json:"kind"`
	Payload map[string]any   `json:"payload"`
	Text    string           `json:"text"`
	Email   string           `json:"-"`
}

type PricingTier struct {
	DurationDays int    `json:"duration_days" yaml:"duration_days"`
	Label        string `json:"label" yaml:"label"`
	Amount       int64  `json:"amount" yaml:"amount"`
}
