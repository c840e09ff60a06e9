package billing

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ReconciliationEntry reports one repaired user: the row that was kept and
// the duplicate active rows that were cancelled.
type ReconciliationEntry struct {
	UserID                   uuid.UUID   `json:"user_id"`
	KeptSubscriptionID       uuid.UUID   `json:"kept_subscription_id"`
	CancelledSubscriptionIDs []uuid.UUID `json:"cancelled_subscription_ids"`
}

// ReconciliationReport is the audit output of one reconciliation run. A
// clean store yields an empty Entries slice.
type ReconciliationReport struct {
	RanAt   time.Time             `json:"ran_at"`
	Entries []ReconciliationEntry `json:"entries"`
}

// Reconcile scans for users holding more than one active subscription and
// repairs them: the newest row (by creation time, ties broken by the
// lexicographically smallest id) is kept, every other active row is
// cancelled.
//
// The repair uses the same conditional transition as every other mutation
// path, so a run racing live webhook traffic cannot clobber a concurrent
// activation: a row that stopped being active between read and write is
// skipped, not overwritten. Running Reconcile repeatedly is safe; with no
// intervening activity the second run reports nothing.
func (s *Service) Reconcile(ctx context.Context) (*ReconciliationReport, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	byUser := make(map[uuid.UUID][]*Subscription)
	for _, sub := range active {
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}

	report := &ReconciliationReport{RanAt: s.now(), Entries: []ReconciliationEntry{}}

	for userID, subs := range byUser {
		if len(subs) < 2 {
			continue
		}

		keep := pickSurvivor(subs)
		var cancelled []uuid.UUID
		for _, sub := range subs {
			if sub.ID == keep.ID {
				continue
			}

			if err := s.machine.Transition(ctx, sub.Status, StatusCancelled, sub); err != nil {
				s.log.ErrorContext(ctx, "reconciliation skipped row", "subscription_id", sub.ID, "error", err)
				continue
			}

			err := s.store.Transition(ctx, sub.ID, StatusActive, StatusChange{To: StatusCancelled, At: s.now()})
			switch {
			case err == nil:
				cancelled = append(cancelled, sub.ID)
			case errors.Is(err, ErrStaleTransition), errors.Is(err, ErrSubscriptionNotFound):
				// Already moved by concurrent traffic; the violation
				// resolved itself.
			default:
				return nil, err
			}
		}

		if len(cancelled) == 0 {
			continue
		}

		sort.Slice(cancelled, func(i, j int) bool {
			return cancelled[i].String() < cancelled[j].String()
		})

		s.log.WarnContext(ctx, "duplicate active subscriptions repaired",
			"user_id", userID, "kept", keep.ID, "cancelled", len(cancelled))

		report.Entries = append(report.Entries, ReconciliationEntry{
			UserID:                   userID,
			KeptSubscriptionID:       keep.ID,
			CancelledSubscriptionIDs: cancelled,
		})
		s.invalidateEntitlements(ctx, userID)
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return report.Entries[i].UserID.String() < report.Entries[j].UserID.String()
	})

	return report, nil
}

// pickSurvivor selects the row to keep: latest creation timestamp, ties
// broken deterministically by the smallest id.
func pickSurvivor(subs []*Subscription) *Subscription {
	keep := subs[0]
	for _, sub := range subs[1:] {
		switch {
		case sub.CreatedAt.After(keep.CreatedAt):
			keep = sub
		case sub.CreatedAt.Equal(keep.CreatedAt) && sub.ID.String() < keep.ID.String():
			keep = sub
		}
	}
	return keep
}
