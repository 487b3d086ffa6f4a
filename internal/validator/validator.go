package validator

import (
	"errors"
	"regexp"
	"strings"

	"invite-service/internal/domain"
)

var (
	ErrEmptyEmail         = errors.New("email is empty")
	ErrInvalidEmailFormat = errors.New("invalid email format")
	ErrEmptyReference     = errors.New("reference is empty")
	ErrEmptyBuyerID       = errors.New("buyer ID is empty")
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrInvalidDuration    = errors.New("duration days must be greater than 0")
	ErrEmptyPackageLabel  = errors.New("package label is empty")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return ErrEmptyEmail
	}
	if !emailRegex.MatchString(email) {
		return ErrInvalidEmailFormat
	}
	return nil
}

func ValidateReference(reference string) error {
	if strings.TrimSpace(reference) == "" {
		return ErrEmptyReference
	}
	return nil
}

func ValidateBuyerID(buyerID string) error {
	if strings.TrimSpace(buyerID) == "" {
		return ErrEmptyBuyerID
	}
	return nil
}

func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func ValidateDuration(days int) error {
	if days <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// ValidateInvoiceRequest checks the fields of an invoice call-in.
func ValidateInvoiceRequest(buyerID, packageLabel string, days int, amount int64) error {
	if err := ValidateBuyerID(buyerID); err != nil {
		return err
	}
	if strings.TrimSpace(packageLabel) == "" {
		return ErrEmptyPackageLabel
	}
	if err := ValidateDuration(days); err != nil {
		return err
	}
	return ValidateAmount(amount)
}

// ValidateEmailCaptured checks an email-capture event. Reference is optional.
func ValidateEmailCaptured(ev domain.EmailCaptured) error {
	if err := ValidateBuyerID(ev.BuyerID); err != nil {
		return err
	}
	return ValidateEmail(ev.Email)
}

// MaskEmail hides the local part for logs: "abcdef@x.io" -> "ab***@x.io".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "***"
	}
	local := email[:at]
	if len(local) > 2 {
		local = local[:2]
	}
	return local + "***" + email[at:]
}
