package signature

import (
	"net/http"
	"strconv"
	"testing"

	"invite-service/internal/domain"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownDigests(t *testing.T) {
	assert.Equal(t,
		"c399c7d5d1b1f2aaf372f88e121350739c01cc7cf31a7cfc89c3c9a74a069240",
		TripayRequestSignature("priv-key", "T0001", "INV-1-1001-abc", 50000))
	assert.Equal(t,
		"619a58cae3074e96638761f47489b8d2cc483d450a3a75c1954c431772756d7dedbd0ebeb5e3a894078d1c7cc61afde294a607c3f7e95fc9be2eb519650627c6",
		MidtransDigest("INV-1-1001-abc", "200", "50000.00", "server-key"))
	assert.Equal(t,
		"f6fb2a69ead5fc1d895f2cf33e8a249e",
		DuitkuCallbackDigest("D0001", "50000", "INV-1-1001-abc", "merchant-key"))
	assert.Equal(t,
		"223f57d62f789be163f3eb63c366fb40",
		DuitkuRequestSignature("D0001", "INV-1-1001-abc", 50000, "merchant-key"))
}

func TestVerifyTripayUsesRawBody(t *testing.T) {
	body := []byte(`{"merchant_ref":"INV-1","status":"PAID"}`)
	h := http.Header{}
	h.Set(TripayHeader, "a2316b45a60ebc27520ec36f930b00843ac8c7648e688e1c52389a6a207ca5ac")

	assert.True(t, Verify(domain.ProviderTripay, body, h, Secret{Key: "priv-key"}))

	reordered := []byte(`{"status":"PAID","merchant_ref":"INV-1"}`)
	assert.False(t, Verify(domain.ProviderTripay, reordered, h, Secret{Key: "priv-key"}))
	assert.False(t, Verify(domain.ProviderTripay, body, http.Header{}, Secret{Key: "priv-key"}))
}

func TestVerifyMidtrans(t *testing.T) {
	sig := MidtransDigest("INV-1-1001-abc", "200", "50000.00", "server-key")
	body := []byte(`{"order_id":"INV-1-1001-abc","status_code":"200","gross_amount":"50000.00","transaction_status":"settlement","signature_key":"` + sig + `"}`)

	assert.True(t, Verify(domain.ProviderMidtrans, body, nil, Secret{Key: "server-key"}))
	assert.False(t, Verify(domain.ProviderMidtrans, body, nil, Secret{Key: "other-key"}))
	assert.False(t, Verify(domain.ProviderMidtrans, []byte(`not json`), nil, Secret{Key: "server-key"}))
}

func TestVerifyDuitkuFormAndJSON(t *testing.T) {
	secret := Secret{MerchantCode: "D0001", Key: "merchant-key"}
	form := []byte("merchantCode=D0001&amount=50000&merchantOrderId=INV-1-1001-abc&resultCode=00&signature=f6fb2a69ead5fc1d895f2cf33e8a249e")
	assert.True(t, Verify(domain.ProviderDuitku, form, nil, secret))

	js := []byte(`{"merchantCode":"D0001","amount":50000,"merchantOrderId":"INV-1-1001-abc","resultCode":"00","signature":"F6FB2A69EAD5FC1D895F2CF33E8A249E"}`)
	assert.True(t, Verify(domain.ProviderDuitku, js, nil, secret))

	foreign := Secret{MerchantCode: "D9999", Key: "merchant-key"}
	assert.False(t, Verify(domain.ProviderDuitku, form, nil, foreign))
}

func TestPrefixOfDigestIsRejected(t *testing.T) {
	full := TripayCallbackDigest([]byte("body"), "k")
	assert.False(t, VerifyTripay([]byte("body"), full[:32], "k"))
	assert.True(t, VerifyTripay([]byte("body"), full, "k"))
}

func TestParseFields(t *testing.T) {
	f, err := ParseFields([]byte(`{"a":"x","n":12.5,"ok":true,"nested":{"b":1}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "n": "12.5", "ok": "true"}, f)

	_, err = ParseFields([]byte("   "))
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestTamperedTripayBodyNeverVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("signed body verifies", prop.ForAll(
		func(body, key string) bool {
			return VerifyTripay([]byte(body), TripayCallbackDigest([]byte(body), key), key)
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.Property("any flipped byte fails", prop.ForAll(
		func(body string, key string, pos int) bool {
			raw := []byte(body)
			sig := TripayCallbackDigest(raw, key)
			tampered := append([]byte(nil), raw...)
			tampered[pos%len(tampered)] ^= 0x01
			return !VerifyTripay(tampered, sig, key)
		},
		gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 }),
		gen.AlphaString(),
		gen.IntRange(0, 1000),
	))

	properties.Property("midtrans amount change fails", prop.ForAll(
		func(orderID string, amount, other int64) bool {
			if amount == other {
				return true
			}
			key := "server-key"
			f := map[string]string{
				"order_id":      orderID,
				"status_code":   "200",
				"gross_amount":  formatAmount(other),
				"signature_key": MidtransDigest(orderID, "200", formatAmount(amount), key),
			}
			return !VerifyMidtrans(f, key)
		},
		gen.Identifier(),
		gen.Int64Range(1, 1_000_000_000),
		gen.Int64Range(1, 1_000_000_000),
	))

	properties.TestingRun(t)
}

func formatAmount(v int64) string {
	return strconv.FormatInt(v, 10) + ".00"
}
