package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidehq/courtside/modules/billing"
)

func newTestServer(t *testing.T) (*fixture, *httptest.Server) {
	t.Helper()

	f := newFixture(t)
	h := billing.NewHandler(f.svc, nil, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return f, srv
}

func postForm(t *testing.T, url string, form url.Values) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandler_Webhook(t *testing.T) {
	t.Parallel()

	t.Run("applied sale returns 200", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp := postForm(t, srv.URL+"/webhooks/paytech", saleForm(t, uuid.New(), "premium", "tok-h-1"))

		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, string(billing.WebhookApplied), body["status"])
		assert.Equal(t, "tok-h-1", body["transaction_id"])
	})

	t.Run("duplicate delivery returns 200", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		userID := uuid.New()
		postForm(t, srv.URL+"/webhooks/paytech", saleForm(t, userID, "premium", "tok-h-2"))
		resp := postForm(t, srv.URL+"/webhooks/paytech", saleForm(t, userID, "premium", "tok-h-2"))

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.WebhookDuplicate), decodeBody(t, resp)["status"])
	})

	t.Run("malformed payload acknowledged with 200", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		form := saleForm(t, uuid.New(), "premium", "tok-h-3")
		form.Set("custom_field", "garbage")
		resp := postForm(t, srv.URL+"/webhooks/paytech", form)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.WebhookIgnored), decodeBody(t, resp)["status"])
	})

	t.Run("authentication failure returns 401", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		form := saleForm(t, uuid.New(), "premium", "tok-h-4")
		form.Set("api_secret_sha256", sha256Hex("wrong"))
		resp := postForm(t, srv.URL+"/webhooks/paytech", form)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown plan returns 422", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp := postForm(t, srv.URL+"/webhooks/paytech", saleForm(t, uuid.New(), "diamond", "tok-h-5"))

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("json body is accepted", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		userID := uuid.New()
		form := saleForm(t, userID, "premium", "tok-h-6")

		payload := map[string]any{}
		for k := range form {
			payload[k] = form.Get(k)
		}
		// custom_field posted as a nested object instead of a string.
		payload["custom_field"] = map[string]any{
			"user_id": userID.String(), "plan_type": "premium",
			"plan_name": "Premium", "subscription": true,
		}

		resp := postJSON(t, srv.URL+"/webhooks/paytech", payload)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.WebhookApplied), decodeBody(t, resp)["status"])
	})

	t.Run("undecodable body acknowledged with 200", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp, err := http.Post(srv.URL+"/webhooks/paytech", "application/json",
			strings.NewReader("{broken"))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHandler_Admin(t *testing.T) {
	t.Parallel()

	t.Run("suspend restore cancel flow", func(t *testing.T) {
		t.Parallel()

		f, srv := newTestServer(t)
		userID := uuid.New()

		sale, err := f.svc.HandleWebhook(context.Background(), saleForm(t, userID, "premium", "tok-ha-1"))
		require.NoError(t, err)
		base := fmt.Sprintf("%s/admin/subscriptions/%s", srv.URL, sale.SubscriptionID)

		resp := postJSON(t, base+"/suspend", map[string]string{"reason": "payment dispute"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, string(billing.StatusSuspended), body["status"])
		assert.Equal(t, "payment dispute", body["suspended_reason"])

		resp = postJSON(t, base+"/restore", map[string]string{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.StatusActive), decodeBody(t, resp)["status"])

		resp = postJSON(t, base+"/cancel", map[string]string{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(billing.StatusCancelled), decodeBody(t, resp)["status"])

		// Terminal; a second cancel conflicts.
		resp = postJSON(t, base+"/cancel", map[string]string{})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("suspend requires a reason", func(t *testing.T) {
		t.Parallel()

		f, srv := newTestServer(t)
		sale, err := f.svc.HandleWebhook(context.Background(), saleForm(t, uuid.New(), "premium", "tok-ha-2"))
		require.NoError(t, err)

		resp := postJSON(t, fmt.Sprintf("%s/admin/subscriptions/%s/suspend", srv.URL, sale.SubscriptionID),
			map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("refused restore returns 409", func(t *testing.T) {
		t.Parallel()

		f, srv := newTestServer(t)
		ctx := context.Background()
		userID := uuid.New()

		sale, err := f.svc.HandleWebhook(ctx, saleForm(t, userID, "basic", "tok-ha-3"))
		require.NoError(t, err)
		_, err = f.svc.Suspend(ctx, sale.SubscriptionID, "review")
		require.NoError(t, err)
		_, err = f.svc.HandleWebhook(ctx, saleForm(t, userID, "premium", "tok-ha-4"))
		require.NoError(t, err)

		resp := postJSON(t, fmt.Sprintf("%s/admin/subscriptions/%s/restore", srv.URL, sale.SubscriptionID),
			map[string]string{})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown subscription returns 404", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp := postJSON(t, fmt.Sprintf("%s/admin/subscriptions/%s/cancel", srv.URL, uuid.New()),
			map[string]string{})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid subscription id returns 400", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp := postJSON(t, srv.URL+"/admin/subscriptions/not-a-uuid/cancel", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("force activate", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		userID := uuid.New()

		resp := postJSON(t, srv.URL+"/admin/subscriptions/force-activate",
			map[string]string{"user_id": userID.String(), "plan_type": "premium"})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.Equal(t, string(billing.StatusActive), body["status"])
		assert.Equal(t, "premium", body["plan_type"])
	})

	t.Run("reconcile reports repairs", func(t *testing.T) {
		t.Parallel()

		f, srv := newTestServer(t)
		userID := uuid.New()
		base := f.clock.Now()
		seedActive(t, f.store, userID, "basic", base.Add(-2*time.Hour))
		seedActive(t, f.store, userID, "premium", base.Add(-time.Hour))

		resp := postJSON(t, srv.URL+"/admin/subscriptions/reconcile", map[string]string{})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var report billing.ReconciliationReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		require.Len(t, report.Entries, 1)
		assert.Equal(t, userID, report.Entries[0].UserID)
	})
}

func TestHandler_CheckoutAndReads(t *testing.T) {
	t.Parallel()

	t.Run("checkout returns the correlation id", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp := postJSON(t, srv.URL+"/checkout",
			map[string]string{"user_id": uuid.NewString(), "plan_type": "premium"})

		require.Equal(t, http.StatusCreated, resp.StatusCode)
		body := decodeBody(t, resp)
		assert.NotEmpty(t, body["ref_command"])
		assert.Equal(t, "premium", body["plan_type"])
	})

	t.Run("checkout of inactive plan returns 422", func(t *testing.T) {
		t.Parallel()

		_, srv := newTestServer(t)
		resp := postJSON(t, srv.URL+"/checkout",
			map[string]string{"user_id": uuid.NewString(), "plan_type": "legacy"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("entitlements endpoint", func(t *testing.T) {
		t.Parallel()

		f, srv := newTestServer(t)
		userID := uuid.New()

		resp, err := http.Get(fmt.Sprintf("%s/users/%s/entitlements", srv.URL, userID))
		require.NoError(t, err)
		defer resp.Body.Close()
		body := decodeBody(t, resp)
		assert.Equal(t, false, body["dashboard"])
		assert.NotContains(t, body, "plan")

		_, err = f.svc.HandleWebhook(context.Background(), saleForm(t, userID, "premium", "tok-hr-1"))
		require.NoError(t, err)

		resp, err = http.Get(fmt.Sprintf("%s/users/%s/entitlements", srv.URL, userID))
		require.NoError(t, err)
		defer resp.Body.Close()
		body = decodeBody(t, resp)
		assert.Equal(t, true, body["dashboard"])
		assert.Contains(t, body, "plan")
	})

	t.Run("subscription history", func(t *testing.T) {
		t.Parallel()

		f, srv := newTestServer(t)
		ctx := context.Background()
		userID := uuid.New()

		_, err := f.svc.HandleWebhook(ctx, saleForm(t, userID, "basic", "tok-hr-2"))
		require.NoError(t, err)
		_, err = f.svc.HandleWebhook(ctx, saleForm(t, userID, "premium", "tok-hr-3"))
		require.NoError(t, err)

		resp, err := http.Get(fmt.Sprintf("%s/users/%s/subscriptions", srv.URL, userID))
		require.NoError(t, err)
		defer resp.Body.Close()

		var out []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Len(t, out, 2)
	})
}
