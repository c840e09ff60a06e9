package billing

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a subscription row.
type Status string

const (
	// StatusPending marks a checkout that has been initiated but not paid.
	StatusPending Status = "pending"
	// StatusActive is the only entitling status. At most one row per user
	// may hold it at any instant.
	StatusActive Status = "active"
	// StatusSuspended marks an administratively frozen subscription. The
	// row stays queryable but grants nothing.
	StatusSuspended Status = "suspended"
	// StatusCancelled is terminal: superseded by a newer activation,
	// cancelled by an administrator, or refunded by the gateway.
	StatusCancelled Status = "cancelled"
	// StatusExpired is terminal: the paid period ran out without renewal.
	StatusExpired Status = "expired"
)

// Subscription is one row of a user's subscription history. Rows are never
// deleted; every lifecycle change is a status transition.
type Subscription struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	PlanType PlanType
	Status   Status

	StartsAt time.Time
	// EndsAt is nil for perpetual plans.
	EndsAt *time.Time

	SuspendedAt     *time.Time
	SuspendedReason string
	RestoredAt      *time.Time
	CancelledAt     *time.Time

	// TransactionID is the gateway token that paid for this row. Empty for
	// pending checkouts and manual grants; unique when present.
	TransactionID string
	PaymentMethod string
	// RefCommand correlates the row with the checkout that initiated it.
	RefCommand string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the row is in active status, regardless of its
// end date.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// ExpiredAt reports whether an active row's paid period has run out.
func (s *Subscription) ExpiredAt(now time.Time) bool {
	return s.Status == StatusActive && s.EndsAt != nil && s.EndsAt.Before(now)
}

// EntitlingAt reports whether the row grants plan entitlements at the given
// instant: active and not past its end date.
func (s *Subscription) EntitlingAt(now time.Time) bool {
	return s.IsActive() && !s.ExpiredAt(now)
}

// StatusChange describes a conditional status transition to be persisted.
// Stores apply it only when the row still holds the expected prior status.
type StatusChange struct {
	To Status
	At time.Time
	// Reason is recorded for suspensions and ignored otherwise.
	Reason string
}
