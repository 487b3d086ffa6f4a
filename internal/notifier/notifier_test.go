package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, value)
	return f.err
}

type fakeEmail struct {
	to       []string
	subjects []string
	err      error
}

func (f *fakeEmail) SendEmail(_ context.Context, to, subject, _ string) error {
	f.to = append(f.to, to)
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestNotifyPublishesRenderedText(t *testing.T) {
	pub := &fakePublisher{}
	logs := repository.NewMemoryNotificationLogRepository()
	d := NewDispatcher(pub, nil, logs, time.UTC, "")

	d.Notify(context.Background(), domain.Notification{
		BuyerID: "1001",
		Kind:    domain.NotifyEmailRequest,
		Payload: map[string]any{"reference": "INV-1", "package": "7 Hari", "amount": int64(50000)},
	})

	require.Len(t, pub.sent, 1)
	var msg message
	require.NoError(t, json.Unmarshal(pub.sent[0], &msg))
	assert.Equal(t, domain.NotifyEmailRequest, msg.Kind)
	assert.Contains(t, msg.Text, "Rp 50.000")
	assert.Contains(t, msg.Text, "INV-1")

	entries := logs.Logs()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusSent, entries[0].Status)
	assert.Equal(t, domain.ChannelKafka, entries[0].Channel)
}

func TestNotifyRecordsFailuresWithoutRetry(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	mail := &fakeEmail{err: errors.New("smtp down")}
	logs := repository.NewMemoryNotificationLogRepository()
	d := NewDispatcher(pub, mail, logs, time.UTC, "")

	d.Notify(context.Background(), domain.Notification{
		BuyerID: "1001",
		Kind:    domain.NotifyReminder,
		Email:   "a@b.co",
		Payload: map[string]any{"email": "a@b.co", "expired_at": time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)},
	})

	assert.Len(t, pub.sent, 1)
	assert.Equal(t, []string{"a@b.co"}, mail.to)
	assert.Equal(t, []string{"Your access ends soon"}, mail.subjects)

	entries := logs.Logs()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.StatusFailed, e.Status)
		assert.True(t, e.ErrorMessage.Valid)
	}
}

func TestEmailCopyOnlyForLifecycleKinds(t *testing.T) {
	mail := &fakeEmail{}
	d := NewDispatcher(&fakePublisher{}, mail, nil, time.UTC, "")

	d.Notify(context.Background(), domain.Notification{BuyerID: "1", Kind: domain.NotifyEmailRequest, Email: "a@b.co"})
	assert.Empty(t, mail.to)

	d.Notify(context.Background(), domain.Notification{BuyerID: "1", Kind: domain.NotifyAccessExpired, Email: "a@b.co"})
	assert.Len(t, mail.to, 1)
}

func TestAlertNeedsAdmin(t *testing.T) {
	pub := &fakePublisher{}
	NewDispatcher(pub, nil, nil, time.UTC, "").Alert(context.Background(), "revoke failed", map[string]any{"email": "a@b.co"})
	assert.Empty(t, pub.sent)

	NewDispatcher(pub, nil, nil, time.UTC, "42").Alert(context.Background(), "revoke failed", map[string]any{"email": "a@b.co"})
	require.Len(t, pub.sent, 1)
	var msg message
	require.NoError(t, json.Unmarshal(pub.sent[0], &msg))
	assert.Equal(t, "42", msg.BuyerID)
	assert.Equal(t, "[alert] revoke failed", msg.Text)
}

func TestFormatRupiah(t *testing.T) {
	assert.Equal(t, "Rp 0", FormatRupiah(0))
	assert.Equal(t, "Rp 500", FormatRupiah(500))
	assert.Equal(t, "Rp 10.000", FormatRupiah(10000))
	assert.Equal(t, "Rp 150.000", FormatRupiah(150000))
	assert.Equal(t, "Rp 1.250.000", FormatRupiah(1250000))
	assert.Equal(t, "-Rp 2.000", FormatRupiah(-2000))
}

func TestRenderUsesLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	text := Render(domain.NotifyInviteSent, map[string]any{
		"email":      "a@b.co",
		"package":    "7 Hari",
		"expired_at": time.Date(2025, 1, 1, 17, 30, 0, 0, time.UTC),
	}, jakarta)
	assert.Contains(t, text, "02 Jan 2025 00:30 WIB")
}
