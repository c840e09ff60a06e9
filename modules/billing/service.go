package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/courtsidehq/courtside/pkg/async"
	"github.com/courtsidehq/courtside/pkg/statemachine"
)

// InvalidateFunc drops a user's cached entitlement state.
type InvalidateFunc func(ctx context.Context, userID uuid.UUID) error

// WebhookStatus is the disposition of one webhook delivery.
type WebhookStatus string

const (
	// WebhookApplied means the event caused a state transition.
	WebhookApplied WebhookStatus = "applied"
	// WebhookDuplicate means the transaction was already processed; the
	// delivery is acknowledged without effect.
	WebhookDuplicate WebhookStatus = "duplicate"
	// WebhookIgnored means the payload was unusable; acknowledged and
	// logged so the gateway does not retry what cannot be fixed.
	WebhookIgnored WebhookStatus = "ignored"
)

// WebhookResult is returned to the HTTP handler for the acknowledgment
// body.
type WebhookResult struct {
	Status         WebhookStatus `json:"status"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	SubscriptionID uuid.UUID     `json:"subscription_id,omitempty"`
}

// Service is the single entry point for every subscription mutation:
// webhook-driven activation, administrative suspend/restore/cancel,
// manual grants, and reconciliation all funnel through the same guarded
// transition primitives.
type Service struct {
	catalog  Catalog
	store    SubscriptionStore
	ledger   Ledger
	verifier *Verifier
	machine  *statemachine.Machine[Status]

	notifier      Notifier
	notifyTimeout time.Duration
	invalidate    InvalidateFunc
	log           *slog.Logger
	now           func() time.Time
	newID         func() uuid.UUID
}

// NewService wires the billing core. Required collaborators are checked
// with panics so misconfiguration fails at startup, not at the first
// webhook.
func NewService(catalog Catalog, store SubscriptionStore, ledger Ledger, verifier *Verifier, opts ...ServiceOption) *Service {
	if catalog == nil {
		panic("billing: Catalog is required")
	}
	if store == nil {
		panic("billing: SubscriptionStore is required")
	}
	if ledger == nil {
		panic("billing: Ledger is required")
	}
	if verifier == nil {
		panic("billing: Verifier is required")
	}

	s := &Service{
		catalog:       catalog,
		store:         store,
		ledger:        ledger,
		verifier:      verifier,
		machine:       newLifecycle(store),
		notifier:      NopNotifier{},
		notifyTimeout: 5 * time.Second,
		log:           slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HandleWebhook verifies one raw gateway notification and applies its
// effect at most once.
//
// Error contract: a nil error means the delivery must be acknowledged with
// success, including duplicates and malformed payloads. A non-nil error
// means the handler should respond with an error status;
// ErrAuthenticationFailed and ErrPlanNotFound are terminal, anything else
// is transient and converges through gateway retry plus the ledger.
func (s *Service) HandleWebhook(ctx context.Context, form url.Values) (*WebhookResult, error) {
	event, err := s.verifier.Verify(form, s.now())
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			s.log.WarnContext(ctx, "unusable webhook payload acknowledged", "error", err)
			return &WebhookResult{Status: WebhookIgnored}, nil
		}
		return nil, err
	}

	switch event.Kind {
	case EventSaleComplete:
		return s.applySale(ctx, event)
	case EventSaleCancelled:
		return s.applyRefund(ctx, event)
	default:
		// Verify only emits the two kinds above.
		return &WebhookResult{Status: WebhookIgnored, TransactionID: event.TransactionID}, nil
	}
}

func (s *Service) applySale(ctx context.Context, event *PaymentEvent) (*WebhookResult, error) {
	plan, err := s.catalog.Get(ctx, event.PlanType)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			// Authentic payment for a plan the catalog does not know:
			// record it as rejected for the operator and answer with an
			// error. Gateway retries will keep hitting the same mismatch
			// until the catalog is fixed or the grant is made manually.
			if _, lerr := s.ledger.RecordIfNew(ctx, s.ledgerEntry(event, event.TransactionID, OutcomeRejected)); lerr != nil {
				s.log.ErrorContext(ctx, "failed to record rejected transaction", "tx", event.TransactionID, "error", lerr)
			}
			return nil, fmt.Errorf("%w: %q (tx %s)", ErrPlanNotFound, event.PlanType, event.TransactionID)
		}
		return nil, err
	}

	isNew, err := s.ledger.RecordIfNew(ctx, s.ledgerEntry(event, event.TransactionID, OutcomeApplied))
	if err != nil {
		return nil, err
	}
	if !isNew {
		s.log.InfoContext(ctx, "duplicate webhook suppressed", "tx", event.TransactionID, "user_id", event.UserID)
		return &WebhookResult{Status: WebhookDuplicate, TransactionID: event.TransactionID}, nil
	}

	sub := &Subscription{
		ID:            s.newID(),
		UserID:        event.UserID,
		PlanType:      plan.Type,
		Status:        StatusActive,
		StartsAt:      event.OccurredAt,
		EndsAt:        planEnd(plan, event.OccurredAt),
		TransactionID: event.TransactionID,
		PaymentMethod: event.PaymentMethod,
		RefCommand:    event.RefCommand,
	}

	final, cancelled, err := s.store.Activate(ctx, sub)
	if err != nil {
		// The effect was not applied; release the ledger entry so the
		// gateway's retry is not suppressed forever.
		if ferr := s.ledger.Forget(ctx, event.TransactionID); ferr != nil {
			s.log.ErrorContext(ctx, "failed to release ledger entry after activation failure",
				"tx", event.TransactionID, "error", ferr)
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription activated",
		"user_id", event.UserID,
		"subscription_id", final.ID,
		"plan", plan.Type,
		"tx", event.TransactionID,
		"superseded", len(cancelled),
	)

	s.invalidateEntitlements(ctx, event.UserID)
	s.dispatch(ctx, Notification{
		UserID:         event.UserID,
		SubscriptionID: final.ID,
		PlanType:       plan.Type,
		Kind:           NotifyActivated,
	})

	return &WebhookResult{Status: WebhookApplied, TransactionID: event.TransactionID, SubscriptionID: final.ID}, nil
}

// applyRefund cancels the subscription paid by a refunded transaction.
// The ledger key is suffixed because the gateway reuses the sale token on
// the cancellation notice.
func (s *Service) applyRefund(ctx context.Context, event *PaymentEvent) (*WebhookResult, error) {
	key := event.TransactionID + "/cancel"

	isNew, err := s.ledger.RecordIfNew(ctx, s.ledgerEntry(event, key, OutcomeApplied))
	if err != nil {
		return nil, err
	}
	if !isNew {
		return &WebhookResult{Status: WebhookDuplicate, TransactionID: event.TransactionID}, nil
	}

	sub, err := s.store.GetByTransactionID(ctx, event.TransactionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			// Refund for a sale this system never applied. Nothing to
			// unwind; keep the ledger entry and acknowledge.
			s.log.WarnContext(ctx, "refund for unknown transaction acknowledged", "tx", event.TransactionID)
			return &WebhookResult{Status: WebhookIgnored, TransactionID: event.TransactionID}, nil
		}
		if ferr := s.ledger.Forget(ctx, key); ferr != nil {
			s.log.ErrorContext(ctx, "failed to release ledger entry", "tx", key, "error", ferr)
		}
		return nil, err
	}

	switch sub.Status {
	case StatusActive, StatusSuspended, StatusPending:
		changed, err := s.transitionWithRetry(ctx, sub.ID, StatusCancelled, "")
		if err != nil {
			if ferr := s.ledger.Forget(ctx, key); ferr != nil {
				s.log.ErrorContext(ctx, "failed to release ledger entry", "tx", key, "error", ferr)
			}
			return nil, err
		}
		s.invalidateEntitlements(ctx, changed.UserID)
		s.dispatch(ctx, Notification{
			UserID:         changed.UserID,
			SubscriptionID: changed.ID,
			PlanType:       changed.PlanType,
			Kind:           NotifyCancelled,
		})
		return &WebhookResult{Status: WebhookApplied, TransactionID: event.TransactionID, SubscriptionID: changed.ID}, nil
	default:
		// Already terminal; nothing to do.
		return &WebhookResult{Status: WebhookIgnored, TransactionID: event.TransactionID, SubscriptionID: sub.ID}, nil
	}
}

// BeginCheckout records the intent to subscribe before the user is sent to
// the gateway: a pending row carrying the correlation id the gateway will
// echo back in ref_command.
func (s *Service) BeginCheckout(ctx context.Context, userID uuid.UUID, planType PlanType) (*Subscription, error) {
	plan, err := s.catalog.Get(ctx, planType)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, fmt.Errorf("%w: %q", ErrPlanInactive, planType)
	}

	now := s.now()
	sub := &Subscription{
		ID:         s.newID(),
		UserID:     userID,
		PlanType:   plan.Type,
		Status:     StatusPending,
		StartsAt:   now,
		RefCommand: uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "checkout started", "user_id", userID, "plan", planType, "ref", sub.RefCommand)
	return sub, nil
}

// Suspend freezes an active subscription. The row keeps its history and
// stops granting entitlements until restored.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID, reason string) (*Subscription, error) {
	sub, err := s.transitionWithRetry(ctx, id, StatusSuspended, reason)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription suspended", "subscription_id", id, "user_id", sub.UserID, "reason", reason)
	s.invalidateEntitlements(ctx, sub.UserID)
	s.dispatch(ctx, Notification{UserID: sub.UserID, SubscriptionID: sub.ID, PlanType: sub.PlanType, Kind: NotifySuspended})
	return sub, nil
}

// Restore lifts a suspension. It fails with
// ErrConflictingActiveSubscription when a different subscription of the
// same user became active in the meantime; both rows are left untouched.
func (s *Service) Restore(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.transitionWithRetry(ctx, id, StatusActive, "")
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription restored", "subscription_id", id, "user_id", sub.UserID)
	s.invalidateEntitlements(ctx, sub.UserID)
	s.dispatch(ctx, Notification{UserID: sub.UserID, SubscriptionID: sub.ID, PlanType: sub.PlanType, Kind: NotifyRestored})
	return sub, nil
}

// Cancel terminates a subscription administratively. Terminal; the row is
// kept as history.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	sub, err := s.transitionWithRetry(ctx, id, StatusCancelled, "")
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription cancelled", "subscription_id", id, "user_id", sub.UserID)
	s.invalidateEntitlements(ctx, sub.UserID)
	s.dispatch(ctx, Notification{UserID: sub.UserID, SubscriptionID: sub.ID, PlanType: sub.PlanType, Kind: NotifyCancelled})
	return sub, nil
}

// ForceActivate grants a plan without payment, for manual corrections. It
// goes through the same atomic activation primitive as webhook-driven
// activation, so the at-most-one-active invariant holds.
func (s *Service) ForceActivate(ctx context.Context, userID uuid.UUID, planType PlanType) (*Subscription, error) {
	plan, err := s.catalog.Get(ctx, planType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &Subscription{
		ID:            s.newID(),
		UserID:        userID,
		PlanType:      plan.Type,
		Status:        StatusActive,
		StartsAt:      now,
		EndsAt:        planEnd(plan, now),
		PaymentMethod: "manual",
	}

	final, cancelled, err := s.store.Activate(ctx, sub)
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription granted manually",
		"user_id", userID, "subscription_id", final.ID, "plan", planType, "superseded", len(cancelled))

	s.invalidateEntitlements(ctx, userID)
	s.dispatch(ctx, Notification{UserID: userID, SubscriptionID: final.ID, PlanType: plan.Type, Kind: NotifyActivated})
	return final, nil
}

// SetEntitlementInvalidator installs the hook called after every status
// change. It exists alongside the option because the entitlement cache
// wraps the service, so the hook is only available after construction.
func (s *Service) SetEntitlementInvalidator(fn InvalidateFunc) {
	s.invalidate = fn
}

// GetSubscription returns one row by id.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// ListSubscriptions returns a user's full history, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]*Subscription, error) {
	return s.store.ListByUser(ctx, userID)
}

// GetActivePlan resolves the plan currently entitling the user, or
// ErrSubscriptionNotFound. The plan definition is re-read live from the
// catalog, so administrative plan updates apply to existing subscribers.
func (s *Service) GetActivePlan(ctx context.Context, userID uuid.UUID) (*Plan, error) {
	sub, err := s.entitlingSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.catalog.Get(ctx, sub.PlanType)
}

// CanAccessFeature reports whether the user's active plan grants the
// feature. Fails closed: any error reads as no access.
func (s *Service) CanAccessFeature(ctx context.Context, userID uuid.UUID, feature Feature) bool {
	plan, err := s.GetActivePlan(ctx, userID)
	if err != nil {
		return false
	}
	return plan.Grants(feature)
}

// CanAccessDashboard reports whether the user may enter the paid
// dashboard.
func (s *Service) CanAccessDashboard(ctx context.Context, userID uuid.UUID) bool {
	return s.CanAccessFeature(ctx, userID, FeatureDashboard)
}

// entitlingSubscription finds the user's active row, applying the lazy
// expiry check every read path shares.
func (s *Service) entitlingSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !sub.ExpiredAt(now) {
		return sub, nil
	}

	// Paid period ran out; flip the row on the spot. Losing the
	// conditional write means someone else already moved it, which is
	// just as good.
	err = s.store.Transition(ctx, sub.ID, StatusActive, StatusChange{To: StatusExpired, At: now})
	switch {
	case err == nil:
		s.invalidateEntitlements(ctx, userID)
		s.dispatch(ctx, Notification{UserID: userID, SubscriptionID: sub.ID, PlanType: sub.PlanType, Kind: NotifyExpired})
	case errors.Is(err, ErrStaleTransition), errors.Is(err, ErrSubscriptionNotFound):
	default:
		s.log.ErrorContext(ctx, "failed to expire subscription", "subscription_id", sub.ID, "error", err)
	}

	return nil, ErrSubscriptionNotFound
}

// transitionWithRetry loads the row, validates the change against the
// lifecycle table, and persists it conditionally. A lost conditional write
// is retried once with a fresh read; persistent loss or an illegal edge
// surfaces to the caller.
func (s *Service) transitionWithRetry(ctx context.Context, id uuid.UUID, to Status, reason string) (*Subscription, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sub, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := s.machine.Transition(ctx, sub.Status, to, sub); err != nil {
			return nil, err
		}

		now := s.now()
		change := StatusChange{To: to, At: now, Reason: reason}
		err = s.store.Transition(ctx, sub.ID, sub.Status, change)
		if err == nil {
			return applyChange(sub, change), nil
		}
		if !errors.Is(err, ErrStaleTransition) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// applyChange mirrors the store-side field updates onto the in-memory row
// returned to the caller.
func applyChange(sub *Subscription, change StatusChange) *Subscription {
	out := *sub
	out.Status = change.To
	out.UpdatedAt = change.At
	switch change.To {
	case StatusSuspended:
		at := change.At
		out.SuspendedAt = &at
		out.SuspendedReason = change.Reason
	case StatusActive:
		at := change.At
		out.RestoredAt = &at
	case StatusCancelled:
		at := change.At
		out.CancelledAt = &at
	}
	return &out
}

func (s *Service) ledgerEntry(event *PaymentEvent, key string, outcome Outcome) LedgerEntry {
	return LedgerEntry{
		TransactionID: key,
		ReceivedAt:    event.OccurredAt,
		Digest:        event.Digest(),
		Outcome:       outcome,
	}
}

func (s *Service) invalidateEntitlements(ctx context.Context, userID uuid.UUID) {
	if s.invalidate == nil {
		return
	}
	if err := s.invalidate(context.WithoutCancel(ctx), userID); err != nil {
		s.log.WarnContext(ctx, "entitlement cache invalidation failed", "user_id", userID, "error", err)
	}
}

// dispatch hands a notification to the collaborator without ever blocking
// or failing the calling operation. The wait is bounded; the delivery
// itself keeps running if slow.
func (s *Service) dispatch(ctx context.Context, n Notification) {
	detached := context.WithoutCancel(ctx)
	f := async.Go(detached, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.notifier.Notify(ctx, n)
	})

	go func() {
		if _, err := f.AwaitWithTimeout(s.notifyTimeout); err != nil {
			s.log.Warn("notification dispatch failed",
				"user_id", n.UserID, "kind", n.Kind, "error", err)
		}
	}()
}

func planEnd(plan *Plan, from time.Time) *time.Time {
	if plan.DurationDays <= 0 {
		return nil
	}
	end := from.AddDate(0, 0, plan.DurationDays)
	return &end
}
