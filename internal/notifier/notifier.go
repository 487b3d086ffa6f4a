package notifier

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/metrics"
	"invite-service/internal/sender"
	"invite-service/internal/validator"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// LogRepository defines the interface for notification log data access
type LogRepository interface {
	SaveLog(ctx context.Context, l domain.NotificationLog) error
}

// Dispatcher delivers notifications without retrying. Every attempt is
// written to the notification log.
type Dispatcher struct {
	publisher Publisher
	email     sender.EmailSender
	logs      LogRepository
	loc       *time.Location
	adminID   string
	now       func() time.Time
}

// NewDispatcher wires the front-end channel. email may be nil.
func NewDispatcher(publisher Publisher, email sender.EmailSender, logs LogRepository, loc *time.Location, adminID string) *Dispatcher {
	return &Dispatcher{publisher: publisher, email: email, logs: logs, loc: loc, adminID: adminID, now: time.Now}
}

type message struct {
	BuyerID string                  `json:"buyer_id"`
	Kind    domain.NotificationKind `json:"kind"`
	Payload map[string]any          `json:"payload"`
	Text    string                  `json:"text"`
	SentAt  time.Time               `json:"sent_at"`
}

func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) {
	if n.Text == "" {
		n.Text = Render(n.Kind, n.Payload, d.loc)
	}
	logCtx := log.WithFields(log.Fields{"buyer_id": n.BuyerID, "kind": n.Kind})

	body, err := json.Marshal(message{BuyerID: n.BuyerID, Kind: n.Kind, Payload: n.Payload, Text: n.Text, SentAt: d.now().UTC()})
	if err != nil {
		logCtx.WithError(err).Error("Failed to encode notification")
		return
	}
	err = d.publisher.Publish(ctx, n.BuyerID, body)
	if err != nil {
		logCtx.WithError(err).Error("Failed to publish notification")
	} else {
		logCtx.Info("Notification published")
	}
	d.record(ctx, n, domain.ChannelKafka, n.BuyerID, err)

	subject, ok := subjects[n.Kind]
	if !ok || n.Email == "" || d.email == nil {
		return
	}
	err = d.email.SendEmail(ctx, n.Email, subject, n.Text)
	if err != nil {
		logCtx.WithError(err).WithField("email", validator.MaskEmail(n.Email)).Error("Failed to send notification email via SMTP")
	} else {
		logCtx.WithField("email", validator.MaskEmail(n.Email)).Info("Notification email sent via SMTP")
	}
	d.record(ctx, n, domain.ChannelEmail, n.Email, err)
}

// Alert notifies the operator, when one is configured.
func (d *Dispatcher) Alert(ctx context.Context, text string, fields map[string]any) {
	log.WithFields(fields).Warn(text)
	if d.adminID == "" {
		return
	}
	payload := map[string]any{"message": text}
	for k, v := range fields {
		payload[k] = v
	}
	d.Notify(ctx, domain.Notification{BuyerID: d.adminID, Kind: domain.NotifyAdminAlert, Payload: payload})
}

func (d *Dispatcher) record(ctx context.Context, n domain.Notification, ch domain.Channel, recipient string, sendErr error) {
	entry := domain.NotificationLog{
		ID:        uuid.NewString(),
		BuyerID:   n.BuyerID,
		Kind:      n.Kind,
		Channel:   ch,
		Recipient: recipient,
		Status:    domain.StatusSent,
		CreatedAt: d.now(),
	}
	if sendErr != nil {
		entry.Status = domain.StatusFailed
		entry.ErrorMessage = sql.NullString{String: sendErr.Error(), Valid: true}
	}
	metrics.NotificationsTotal.WithLabelValues(string(n.Kind), string(ch), string(entry.Status)).Inc()

	if d.logs == nil {
		return
	}
	if err := d.logs.SaveLog(ctx, entry); err != nil {
		log.WithError(err).Error("Failed to save notification log to database")
	}
}
