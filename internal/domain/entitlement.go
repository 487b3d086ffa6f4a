package domain

import (
	"strings"
	"time"
)

type EntitlementStatus string

const (
	EntitlementActive       EntitlementStatus = "active"
	EntitlementExpired      EntitlementStatus = "expired"
	EntitlementExpiredError EntitlementStatus = "expired_error"
)

// Retired reports whether the status is one of the expired variants.
func (s EntitlementStatus) Retired() bool {
	return s != EntitlementActive && strings.Contains(string(s), "expired")
}

const ResendReasonInviteMissing = "invite_missing"

type ResendEntry struct {
	At     time.Time `json:"resend_at"`
	Reason string    `json:"reason"`
}

// Entitlement is a time-boxed grant of access for one email.
type Entitlement struct {
	ID              string
	BuyerID         string
	AccessEmail     string
	PackageLabel    string
	DurationDays    int
	Status          EntitlementStatus
	CreatedAt       time.Time
	ExpiredAt       time.Time
	RemovedAt       *time.Time
	ReminderSent    bool
	ReminderSentAt  *time.Time
	LastResendAt    *time.Time
	ResendLog       []ResendEntry
	SourceReference string
	LastError       string
}

// NewEntitlement builds an active entitlement; ExpiredAt is fixed here and
// never recomputed.
func NewEntitlement(id, buyerID, email, label string, days int, sourceRef string, createdAt time.Time) *Entitlement {
	return &Entitlement{
		ID:              id,
		BuyerID:         buyerID,
		AccessEmail:     email,
		PackageLabel:    label,
		DurationDays:    days,
		Status:          EntitlementActive,
		CreatedAt:       createdAt,
		ExpiredAt:       createdAt.Add(time.Duration(days) * 24 * time.Hour),
		SourceReference: sourceRef,
	}
}

// Expire moves an active entitlement to expired (revoke succeeded) or
// expired_error (revoke failed). It reports whether the status changed.
func (e *Entitlement) Expire(now time.Time, revokeErr error) bool {
	if e.Status != EntitlementActive {
		return false
	}
	if revokeErr != nil {
		e.Status = EntitlementExpiredError
		e.LastError = revokeErr.Error()
		return true
	}
	e.Status = EntitlementExpired
	removedAt := now
	e.RemovedAt = &removedAt
	return true
}

// DueForReminder reports whether the entitlement expires inside (now, now+lead]
// and has not been reminded yet.
func (e *Entitlement) DueForReminder(now time.Time, lead time.Duration) bool {
	return e.Status == EntitlementActive &&
		!e.ReminderSent &&
		e.ExpiredAt.After(now) &&
		!e.ExpiredAt.After(now.Add(lead))
}

func (e *Entitlement) MarkReminded(now time.Time) bool {
	if e.ReminderSent {
		return false
	}
	e.ReminderSent = true
	sentAt := now
	e.ReminderSentAt = &sentAt
	return true
}

func (e *Entitlement) RecordResend(now time.Time, reason string) {
	e.ResendLog = append(e.ResendLog, ResendEntry{At: now, Reason: reason})
	at := now
	e.LastResendAt = &at
}

func (e *Entitlement) PastExpiry(now time.Time) bool {
	return !e.ExpiredAt.After(now)
}
