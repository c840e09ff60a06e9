package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies a normalized payment notification.
type EventKind string

const (
	EventSaleComplete  EventKind = "sale_complete"
	EventSaleCancelled EventKind = "sale_canceled"
)

// PaymentEvent is the normalized form of a verified gateway notification.
type PaymentEvent struct {
	// TransactionID is the gateway token, used as the idempotency key.
	TransactionID string
	UserID        uuid.UUID
	PlanType      PlanType
	PlanName      string
	Amount        Money
	OccurredAt    time.Time
	Kind          EventKind
	RefCommand    string
	PaymentMethod string
}

// Digest returns a stable SHA-256 hex digest of the normalized event,
// stored in the idempotency ledger for audit.
func (e *PaymentEvent) Digest() string {
	canonical := strings.Join([]string{
		e.TransactionID,
		e.UserID.String(),
		string(e.PlanType),
		string(e.Kind),
		fmt.Sprintf("%d", e.Amount.Amount),
		e.Amount.Currency,
		e.RefCommand,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// customField is the nested JSON the platform put into the checkout's
// custom_field when the payment was initiated. Unknown fields are rejected
// so payload drift is caught at the boundary instead of deep in the flow.
type customField struct {
	UserID       string `json:"user_id"`
	PlanType     string `json:"plan_type"`
	PlanName     string `json:"plan_name"`
	Subscription bool   `json:"subscription"`
}

// Verifier authenticates and normalizes inbound gateway notifications.
// Verification is pure: no state is touched, making it safe to run before
// the idempotency check.
type Verifier struct {
	apiKeyHash    string
	apiSecretHash string
	apiSecret     string
}

// NewVerifier precomputes the credential digests the gateway echoes back
// on every notification.
func NewVerifier(apiKey, apiSecret string) *Verifier {
	keySum := sha256.Sum256([]byte(apiKey))
	secretSum := sha256.Sum256([]byte(apiSecret))
	return &Verifier{
		apiKeyHash:    hex.EncodeToString(keySum[:]),
		apiSecretHash: hex.EncodeToString(secretSum[:]),
		apiSecret:     apiSecret,
	}
}

// Verify authenticates the raw form payload and parses it into a
// PaymentEvent.
//
// It returns ErrAuthenticationFailed when the credential digests or the
// optional HMAC signature do not match, and ErrMalformedPayload when a
// required field is missing or fails coercion. Callers must treat the two
// differently: authentication failures are rejected so the gateway retries,
// malformed payloads are acknowledged and logged because no retry can fix
// them.
func (v *Verifier) Verify(form url.Values, receivedAt time.Time) (*PaymentEvent, error) {
	if err := v.authenticate(form); err != nil {
		return nil, err
	}
	return v.parse(form, receivedAt)
}

func (v *Verifier) authenticate(form url.Values) error {
	keyHash := form.Get("api_key_sha256")
	secretHash := form.Get("api_secret_sha256")
	if keyHash == "" || secretHash == "" {
		return fmt.Errorf("%w: missing credential digests", ErrAuthenticationFailed)
	}

	// hmac.Equal for constant-time comparison of the hex digests.
	if !hmac.Equal([]byte(strings.ToLower(keyHash)), []byte(v.apiKeyHash)) ||
		!hmac.Equal([]byte(strings.ToLower(secretHash)), []byte(v.apiSecretHash)) {
		return fmt.Errorf("%w: credential digest mismatch", ErrAuthenticationFailed)
	}

	// Newer gateway versions additionally sign token|ref_command|item_price
	// with the shared secret. Verify when present.
	if sig := form.Get("hmac_compute"); sig != "" {
		mac := hmac.New(sha256.New, []byte(v.apiSecret))
		fmt.Fprintf(mac, "%s|%s|%s", form.Get("token"), form.Get("ref_command"), form.Get("item_price"))
		expected := hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			return fmt.Errorf("%w: payload signature mismatch", ErrAuthenticationFailed)
		}
	}

	return nil
}

func (v *Verifier) parse(form url.Values, receivedAt time.Time) (*PaymentEvent, error) {
	var kind EventKind
	switch typeEvent := form.Get("type_event"); typeEvent {
	case "sale_complete":
		kind = EventSaleComplete
	case "sale_canceled", "sale_cancelled":
		kind = EventSaleCancelled
	default:
		return nil, fmt.Errorf("%w: unknown type_event %q", ErrMalformedPayload, typeEvent)
	}

	token := form.Get("token")
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrMalformedPayload)
	}

	custom, err := decodeCustomField(form.Get("custom_field"))
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(custom.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user_id %q", ErrMalformedPayload, custom.UserID)
	}
	if custom.PlanType == "" {
		return nil, fmt.Errorf("%w: missing plan_type", ErrMalformedPayload)
	}
	if !custom.Subscription {
		return nil, fmt.Errorf("%w: not a subscription sale", ErrMalformedPayload)
	}

	amount, err := parsePrice(form.Get("item_price"))
	if err != nil {
		return nil, err
	}

	currency := form.Get("currency")
	if currency == "" {
		return nil, fmt.Errorf("%w: missing currency", ErrMalformedPayload)
	}

	return &PaymentEvent{
		TransactionID: token,
		UserID:        userID,
		PlanType:      PlanType(custom.PlanType),
		PlanName:      custom.PlanName,
		Amount:        Money{Amount: amount, Currency: currency},
		OccurredAt:    receivedAt,
		Kind:          kind,
		RefCommand:    form.Get("ref_command"),
		PaymentMethod: form.Get("payment_method"),
	}, nil
}

func decodeCustomField(raw string) (*customField, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing custom_field", ErrMalformedPayload)
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var cf customField
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("%w: custom_field: %v", ErrMalformedPayload, err)
	}
	// Trailing garbage after the JSON object is as suspect as a bad field.
	if dec.More() {
		return nil, fmt.Errorf("%w: custom_field has trailing data", ErrMalformedPayload)
	}

	return &cf, nil
}

// parsePrice converts the gateway's string-encoded decimal price to minor
// currency units, accepting at most two fractional digits.
func parsePrice(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: missing item_price", ErrMalformedPayload)
	}

	whole, frac, hasFrac := strings.Cut(raw, ".")
	if whole == "" {
		return 0, fmt.Errorf("%w: invalid item_price %q", ErrMalformedPayload, raw)
	}
	// 15 integer digits keeps the minor-unit result far from int64
	// overflow; no real price comes close.
	if len(whole) > 15 {
		return 0, fmt.Errorf("%w: item_price out of range %q", ErrMalformedPayload, raw)
	}

	var units int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: invalid item_price %q", ErrMalformedPayload, raw)
		}
		units = units*10 + int64(r-'0')
	}

	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("%w: invalid item_price %q", ErrMalformedPayload, raw)
		}
		for _, r := range frac {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("%w: invalid item_price %q", ErrMalformedPayload, raw)
			}
			cents = cents*10 + int64(r-'0')
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	return units*100 + cents, nil
}
