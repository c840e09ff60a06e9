package billing

import (
	"context"
	"errors"

	"github.com/courtsidehq/courtside/pkg/statemachine"
)

// newLifecycle builds the subscription transition table. Every mutation
// path in the service validates against this one machine, so the legal
// edges are enforced uniformly regardless of entry point.
//
//	pending   -> active | cancelled
//	active    -> suspended | cancelled | expired
//	suspended -> active | cancelled
//
// The suspended->active edge (restore) carries a guard rejecting the
// restore when any other row of the same user is active, which would
// otherwise happen when a payment activated a different plan while this
// row sat suspended.
func newLifecycle(store SubscriptionStore) *statemachine.Machine[Status] {
	m := statemachine.New[Status]()

	m.AddTransition(StatusPending, StatusActive)
	m.AddTransition(StatusPending, StatusCancelled)

	m.AddTransition(StatusActive, StatusSuspended)
	m.AddTransition(StatusActive, StatusCancelled)
	m.AddTransition(StatusActive, StatusExpired)

	m.AddTransition(StatusSuspended, StatusActive, noOtherActiveGuard(store))
	m.AddTransition(StatusSuspended, StatusCancelled)

	return m
}

// noOtherActiveGuard blocks a transition into active status when the user
// already has a different active row.
func noOtherActiveGuard(store SubscriptionStore) statemachine.Guard[Status] {
	return func(ctx context.Context, from, to Status, data any) error {
		sub, ok := data.(*Subscription)
		if !ok {
			return ErrSubscriptionNotFound
		}

		current, err := store.ActiveByUser(ctx, sub.UserID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return nil
			}
			return err
		}
		if current.ID != sub.ID {
			return ErrConflictingActiveSubscription
		}
		return nil
	}
}
