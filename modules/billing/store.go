package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStore persists subscription rows. Implementations must
// enforce the transition conditions at the data-store level (transactions,
// conditional updates, unique constraints) because any number of service
// instances mutate the same store concurrently.
type SubscriptionStore interface {
	// Get returns the row by id or ErrSubscriptionNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetByTransactionID returns the row paid by the given gateway token
	// or ErrSubscriptionNotFound.
	GetByTransactionID(ctx context.Context, transactionID string) (*Subscription, error)

	// ActiveByUser returns the user's row in active status, newest first
	// when the store is (transiently) inconsistent, or
	// ErrSubscriptionNotFound.
	ActiveByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	// ListByUser returns the user's full subscription history, newest
	// first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Subscription, error)

	// ListActive returns every row currently in active status, for the
	// reconciliation sweep.
	ListActive(ctx context.Context) ([]*Subscription, error)

	// Create inserts a new row as-is. Used for pending checkouts.
	Create(ctx context.Context, sub *Subscription) error

	// Activate performs the activation as one atomic unit: every existing
	// active row of sub.UserID is cancelled, then sub is stored in active
	// status. When a pending row matches sub.UserID, sub.PlanType and, if
	// set, sub.RefCommand, that row is promoted in place instead of
	// inserting a new one. It returns the final row and the ids of the
	// rows it cancelled.
	//
	// No concurrent reader may ever observe two active rows, or the old
	// row gone and the new one not yet present.
	Activate(ctx context.Context, sub *Subscription) (*Subscription, []uuid.UUID, error)

	// Transition applies change to the row only if it still holds the
	// expected status. Returns ErrStaleTransition when the row moved on,
	// ErrSubscriptionNotFound when it does not exist, and
	// ErrConflictingActiveSubscription when change.To is active and
	// another row of the same user is already active.
	Transition(ctx context.Context, id uuid.UUID, expected Status, change StatusChange) error

	// ExpireDue transitions every active row whose end date passed before
	// now to expired, returning how many rows changed. Idempotent.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
