package billing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidehq/courtside/modules/billing"
)

const (
	testAPIKey    = "pk_test_0123456789"
	testAPISecret = "sk_test_9876543210"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// saleForm builds a fully authenticated sale_complete payload for the
// given user and plan.
func saleForm(t *testing.T, userID uuid.UUID, planType, token string) url.Values {
	t.Helper()

	form := url.Values{}
	form.Set("type_event", "sale_complete")
	form.Set("token", token)
	form.Set("ref_command", "ref-"+token)
	form.Set("item_name", "Premium subscription")
	form.Set("item_price", "7500")
	form.Set("currency", "XOF")
	form.Set("payment_method", "Orange Money")
	form.Set("custom_field", fmt.Sprintf(
		`{"user_id":%q,"plan_type":%q,"plan_name":"Premium","subscription":true}`,
		userID, planType))
	form.Set("api_key_sha256", sha256Hex(testAPIKey))
	form.Set("api_secret_sha256", sha256Hex(testAPISecret))
	return form
}

func signForm(form url.Values, secret string) {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s|%s", form.Get("token"), form.Get("ref_command"), form.Get("item_price"))
	form.Set("hmac_compute", hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	v := billing.NewVerifier(testAPIKey, testAPISecret)
	userID := uuid.New()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	t.Run("accepts authenticated sale", func(t *testing.T) {
		t.Parallel()

		event, err := v.Verify(saleForm(t, userID, "premium", "tok-1"), now)
		require.NoError(t, err)

		assert.Equal(t, billing.EventSaleComplete, event.Kind)
		assert.Equal(t, "tok-1", event.TransactionID)
		assert.Equal(t, userID, event.UserID)
		assert.Equal(t, billing.PlanType("premium"), event.PlanType)
		assert.Equal(t, int64(750000), event.Amount.Amount)
		assert.Equal(t, "XOF", event.Amount.Currency)
		assert.Equal(t, now, event.OccurredAt)
		assert.Equal(t, "ref-tok-1", event.RefCommand)
		assert.Equal(t, "Orange Money", event.PaymentMethod)
	})

	t.Run("accepts valid hmac signature", func(t *testing.T) {
		t.Parallel()

		form := saleForm(t, userID, "premium", "tok-2")
		signForm(form, testAPISecret)

		_, err := v.Verify(form, now)
		require.NoError(t, err)
	})

	t.Run("rejects tampered hmac signature", func(t *testing.T) {
		t.Parallel()

		form := saleForm(t, userID, "premium", "tok-3")
		signForm(form, testAPISecret)
		form.Set("item_price", "1") // signature no longer covers the price

		_, err := v.Verify(form, now)
		require.ErrorIs(t, err, billing.ErrAuthenticationFailed)
	})

	t.Run("rejects wrong credentials", func(t *testing.T) {
		t.Parallel()

		form := saleForm(t, userID, "premium", "tok-4")
		form.Set("api_secret_sha256", sha256Hex("not-the-secret"))

		_, err := v.Verify(form, now)
		require.ErrorIs(t, err, billing.ErrAuthenticationFailed)
	})

	t.Run("rejects missing credential digests", func(t *testing.T) {
		t.Parallel()

		form := saleForm(t, userID, "premium", "tok-5")
		form.Del("api_key_sha256")

		_, err := v.Verify(form, now)
		require.ErrorIs(t, err, billing.ErrAuthenticationFailed)
	})

	t.Run("accepts uppercase credential digests", func(t *testing.T) {
		t.Parallel()

		form := saleForm(t, userID, "premium", "tok-6")
		form.Set("api_key_sha256", strings.ToUpper(form.Get("api_key_sha256")))

		_, err := v.Verify(form, now)
		require.NoError(t, err)
	})

	t.Run("normalizes sale_cancelled spelling", func(t *testing.T) {
		t.Parallel()

		form := saleForm(t, userID, "premium", "tok-7")
		form.Set("type_event", "sale_cancelled")

		event, err := v.Verify(form, now)
		require.NoError(t, err)
		assert.Equal(t, billing.EventSaleCancelled, event.Kind)
	})

	malformed := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"unknown event type", func(f url.Values) { f.Set("type_event", "subscription_renewed") }},
		{"missing token", func(f url.Values) { f.Del("token") }},
		{"missing custom_field", func(f url.Values) { f.Del("custom_field") }},
		{"custom_field not json", func(f url.Values) { f.Set("custom_field", "user=abc") }},
		{"custom_field unknown key", func(f url.Values) {
			f.Set("custom_field", `{"user_id":"`+uuid.NewString()+`","plan_type":"premium","subscription":true,"extra":1}`)
		}},
		{"custom_field trailing data", func(f url.Values) {
			f.Set("custom_field", `{"user_id":"`+uuid.NewString()+`","plan_type":"premium","subscription":true}{}`)
		}},
		{"invalid user id", func(f url.Values) {
			f.Set("custom_field", `{"user_id":"player-42","plan_type":"premium","subscription":true}`)
		}},
		{"missing plan type", func(f url.Values) {
			f.Set("custom_field", `{"user_id":"`+uuid.NewString()+`","subscription":true}`)
		}},
		{"not a subscription sale", func(f url.Values) {
			f.Set("custom_field", `{"user_id":"`+uuid.NewString()+`","plan_type":"premium","subscription":false}`)
		}},
		{"missing price", func(f url.Values) { f.Del("item_price") }},
		{"negative price", func(f url.Values) { f.Set("item_price", "-5") }},
		{"price with three decimals", func(f url.Values) { f.Set("item_price", "10.005") }},
		{"price too long to be real", func(f url.Values) { f.Set("item_price", strings.Repeat("9", 16)) }},
		{"price not a number", func(f url.Values) { f.Set("item_price", "7,500") }},
		{"missing currency", func(f url.Values) { f.Del("currency") }},
	}

	for _, tc := range malformed {
		t.Run("malformed: "+tc.name, func(t *testing.T) {
			t.Parallel()

			form := saleForm(t, userID, "premium", "tok-bad")
			tc.mutate(form)

			_, err := v.Verify(form, now)
			require.ErrorIs(t, err, billing.ErrMalformedPayload)
		})
	}
}

func TestVerifier_PriceParsing(t *testing.T) {
	t.Parallel()

	v := billing.NewVerifier(testAPIKey, testAPISecret)
	userID := uuid.New()
	now := time.Now().UTC()

	cases := []struct {
		raw  string
		want int64
	}{
		{"7500", 750000},
		{"7500.5", 750050},
		{"7500.25", 750025},
		{"0.99", 99},
		{"0", 0},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()

			form := saleForm(t, userID, "premium", "tok-price-"+tc.raw)
			form.Set("item_price", tc.raw)

			event, err := v.Verify(form, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, event.Amount.Amount)
		})
	}
}

func TestPaymentEvent_Digest(t *testing.T) {
	t.Parallel()

	v := billing.NewVerifier(testAPIKey, testAPISecret)
	userID := uuid.New()
	now := time.Now().UTC()

	a, err := v.Verify(saleForm(t, userID, "premium", "tok-digest"), now)
	require.NoError(t, err)
	b, err := v.Verify(saleForm(t, userID, "premium", "tok-digest"), now.Add(time.Minute))
	require.NoError(t, err)

	// Redeliveries of the same transaction digest identically even when
	// received at different times.
	assert.Equal(t, a.Digest(), b.Digest())

	c, err := v.Verify(saleForm(t, userID, "basic", "tok-digest"), now)
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), c.Digest())
}
