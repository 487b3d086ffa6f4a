// Package signature recomputes payment-provider signatures. Verification never
// errors: anything that does not match, including an unreadable payload,
// is untrusted.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"invite-service/internal/domain"
)

// TripayHeader carries the Tripay callback signature.
const TripayHeader = "X-Callback-Signature"

// Secret is the credential pair a provider signs with. MerchantCode is unused
// by providers that sign with the key alone.
type Secret struct {
	MerchantCode string
	Key          string
}

func Verify(kind domain.Provider, raw []byte, headers http.Header, secret Secret) bool {
	switch kind {
	case domain.ProviderTripay:
		return VerifyTripay(raw, headers.Get(TripayHeader), secret.Key)
	case domain.ProviderMidtrans:
		f, err := ParseFields(raw)
		if err != nil {
			return false
		}
		return VerifyMidtrans(f, secret.Key)
	case domain.ProviderDuitku:
		f, err := ParseFields(raw)
		if err != nil {
			return false
		}
		return VerifyDuitku(f, secret)
	}
	return false
}

// TripayCallbackDigest is HMAC-SHA256 of the raw callback body.
func TripayCallbackDigest(raw []byte, privateKey string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// TripayRequestSignature signs an outbound transaction/create request.
func TripayRequestSignature(privateKey, merchantCode, merchantRef string, amount int64) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(merchantCode + merchantRef + strconv.FormatInt(amount, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyTripay(raw []byte, given, privateKey string) bool {
	return equal(TripayCallbackDigest(raw, privateKey), given)
}

func MidtransDigest(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func VerifyMidtrans(f map[string]string, serverKey string) bool {
	want := MidtransDigest(f["order_id"], f["status_code"], f["gross_amount"], serverKey)
	return equal(want, f["signature_key"])
}

func DuitkuCallbackDigest(merchantCode, amount, merchantOrderID, merchantKey string) string {
	sum := md5.Sum([]byte(merchantCode + amount + merchantOrderID + merchantKey))
	return hex.EncodeToString(sum[:])
}

// DuitkuRequestSignature orders its fields differently from the callback.
func DuitkuRequestSignature(merchantCode, merchantOrderID string, amount int64, merchantKey string) string {
	sum := md5.Sum([]byte(merchantCode + merchantOrderID + strconv.FormatInt(amount, 10) + merchantKey))
	return hex.EncodeToString(sum[:])
}

func VerifyDuitku(f map[string]string, secret Secret) bool {
	code := f["merchantCode"]
	if secret.MerchantCode != "" && code != secret.MerchantCode {
		return false
	}
	want := DuitkuCallbackDigest(code, f["amount"], f["merchantOrderId"], secret.Key)
	return equal(want, f["signature"])
}

// equal compares the full hex digest in constant time.
func equal(computed, given string) bool {
	given = strings.ToLower(strings.TrimSpace(given))
	if given == "" {
		return false
	}
	return hmac.Equal([]byte(computed), []byte(given))
}
