package notifier

import (
	"fmt"
	"strconv"
	"time"

	"invite-service/internal/domain"
)

// FormatRupiah renders 150000 as "Rp 150.000".
func FormatRupiah(amount int64) string {
	s := strconv.FormatInt(amount, 10)
	neg := false
	if amount < 0 {
		neg = true
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, '.')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-Rp " + string(out)
	}
	return "Rp " + string(out)
}

// Render turns a notification payload into the text shown to the buyer.
func Render(kind domain.NotificationKind, p map[string]any, loc *time.Location) string {
	str := func(k string) string {
		if v, ok := p[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return "-"
	}
	amount := func() string {
		switch v := p["amount"].(type) {
		case int64:
			return FormatRupiah(v)
		case int:
			return FormatRupiah(int64(v))
		}
		return str("amount")
	}
	when := func(k string) string {
		if t, ok := p[k].(time.Time); ok {
			if loc == nil {
				loc = time.UTC
			}
			return t.In(loc).Format("02 Jan 2006 15:04 MST")
		}
		return str(k)
	}

	switch kind {
	case domain.NotifyEmailRequest:
		return fmt.Sprintf("Payment received for %s (%s). Reference: %s\n\nReply with the email address that should receive the invite.",
			str("package"), amount(), str("reference"))
	case domain.NotifyInvoiceExpired:
		return fmt.Sprintf("Invoice %s has expired. Create a new order to try again.", str("reference"))
	case domain.NotifyInviteSent:
		return fmt.Sprintf("Invite sent to %s.\nPackage: %s\nValid until: %s", str("email"), str("package"), when("expired_at"))
	case domain.NotifyInviteFailed:
		return fmt.Sprintf("Your access for %s is recorded, but sending the invite failed. It will be retried automatically.", str("email"))
	case domain.NotifyReminder:
		return fmt.Sprintf("Reminder: access for %s ends on %s.", str("email"), when("expired_at"))
	case domain.NotifyAccessExpired:
		return fmt.Sprintf("Access for %s has ended (package %s). Thank you for using the service.", str("email"), str("package"))
	case domain.NotifyInviteResent:
		return fmt.Sprintf("Your access for %s was missing and has been sent again.", str("email"))
	case domain.NotifyAdminAlert:
		return fmt.Sprintf("[alert] %s", str("message"))
	}
	return string(kind)
}

var subjects = map[domain.NotificationKind]string{
	domain.NotifyInviteSent:    "Your access invite",
	domain.NotifyReminder:      "Your access ends soon",
	domain.NotifyAccessExpired: "Your access has ended",
	domain.NotifyInviteResent:  "Your access invite was sent again",
}
