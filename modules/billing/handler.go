package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/courtsidehq/courtside/pkg/statemachine"
)

// Handler exposes the billing core over HTTP: the gateway webhook
// endpoint, the administrative surface, and entitlement reads.
type Handler struct {
	svc          *Service
	entitlements Entitlements
	log          *slog.Logger
}

// NewHandler builds the HTTP handler. entitlements may be the service
// itself or a caching decorator; nil falls back to the service.
func NewHandler(svc *Service, entitlements Entitlements, log *slog.Logger) *Handler {
	if svc == nil {
		panic("billing: Service is required")
	}
	if entitlements == nil {
		entitlements = svc
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, entitlements: entitlements, log: log}
}

// Router mounts all billing routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/paytech", h.handleWebhook)

	r.Route("/admin/subscriptions", func(admin chi.Router) {
		admin.Post("/force-activate", h.handleForceActivate)
		admin.Post("/reconcile", h.handleReconcile)
		admin.Post("/{id}/suspend", h.handleSuspend)
		admin.Post("/{id}/restore", h.handleRestore)
		admin.Post("/{id}/cancel", h.handleCancel)
		admin.Get("/{id}", h.handleGet)
	})

	r.Post("/checkout", h.handleBeginCheckout)
	r.Get("/users/{userID}/entitlements", h.handleEntitlements)
	r.Get("/users/{userID}/subscriptions", h.handleListSubscriptions)

	return r
}

// handleWebhook acknowledges per the gateway contract: 200 for applied,
// duplicate and malformed-but-unfixable deliveries, 401 for failed
// authentication, 422 for authenticated payments naming an unknown plan,
// 500 for transient failures the gateway should retry.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	form, err := decodePayload(r)
	if err != nil {
		h.log.WarnContext(r.Context(), "undecodable webhook body acknowledged", "error", err)
		writeJSON(w, http.StatusOK, WebhookResult{Status: WebhookIgnored})
		return
	}

	result, err := h.svc.HandleWebhook(r.Context(), form)
	if err != nil {
		switch {
		case errors.Is(err, ErrAuthenticationFailed):
			writeError(w, http.StatusUnauthorized, err)
		case errors.Is(err, ErrPlanNotFound):
			writeError(w, http.StatusUnprocessableEntity, err)
		default:
			h.log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, errors.New("temporary failure, retry"))
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleBeginCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   uuid.UUID `json:"user_id"`
		PlanType PlanType  `json:"plan_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil || req.PlanType == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id and plan_type are required"))
		return
	}

	sub, err := h.svc.BeginCheckout(r.Context(), req.UserID, req.PlanType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"subscription_id": sub.ID,
		"ref_command":     sub.RefCommand,
		"plan_type":       sub.PlanType,
	})
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		writeError(w, http.StatusBadRequest, errors.New("a suspension reason is required"))
		return
	}

	sub, err := h.svc.Suspend(r.Context(), id, req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse(sub))
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.svc.Restore(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse(sub))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse(sub))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sub, err := h.svc.GetSubscription(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionResponse(sub))
}

func (h *Handler) handleForceActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   uuid.UUID `json:"user_id"`
		PlanType PlanType  `json:"plan_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == uuid.Nil || req.PlanType == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id and plan_type are required"))
		return
	}

	sub, err := h.svc.ForceActivate(r.Context(), req.UserID, req.PlanType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, subscriptionResponse(sub))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Reconcile(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	resp := map[string]any{
		"dashboard": h.entitlements.CanAccessDashboard(r.Context(), userID),
	}
	if plan, err := h.entitlements.GetActivePlan(r.Context(), userID); err == nil {
		resp["plan"] = plan
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid user id"))
		return
	}

	subs, err := h.svc.ListSubscriptions(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionResponse(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrPlanNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrConflictingActiveSubscription),
		errors.Is(err, ErrStaleTransition),
		errors.Is(err, statemachine.ErrTransitionNotAllowed):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrPlanInactive):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		h.log.ErrorContext(r.Context(), "request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func subscriptionResponse(sub *Subscription) map[string]any {
	resp := map[string]any{
		"id":         sub.ID,
		"user_id":    sub.UserID,
		"plan_type":  sub.PlanType,
		"status":     sub.Status,
		"starts_at":  sub.StartsAt,
		"created_at": sub.CreatedAt,
		"updated_at": sub.UpdatedAt,
	}
	if sub.EndsAt != nil {
		resp["ends_at"] = sub.EndsAt
	}
	if sub.SuspendedAt != nil {
		resp["suspended_at"] = sub.SuspendedAt
		resp["suspended_reason"] = sub.SuspendedReason
	}
	if sub.RestoredAt != nil {
		resp["restored_at"] = sub.RestoredAt
	}
	if sub.CancelledAt != nil {
		resp["cancelled_at"] = sub.CancelledAt
	}
	if sub.TransactionID != "" {
		resp["transaction_id"] = sub.TransactionID
	}
	return resp
}

// decodePayload accepts the gateway's form-encoded body, falling back to a
// flat JSON object for gateway configurations that post JSON.
func decodePayload(r *http.Request) (url.Values, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid json body: %w", err)
		}
		form := make(url.Values, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				form.Set(k, val)
			case float64, bool:
				form.Set(k, fmt.Sprint(val))
			default:
				// Nested values (e.g. custom_field sent as an object)
				// are re-serialized so the verifier sees one shape.
				b, err := json.Marshal(val)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", k, err)
				}
				form.Set(k, string(b))
			}
		}
		return form, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	return r.PostForm, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid subscription id"))
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
