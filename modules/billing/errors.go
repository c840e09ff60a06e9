package billing

import "errors"

var (
	ErrPlanNotFound      = errors.New("billing: plan not found")
	ErrPlanInactive      = errors.New("billing: plan is not available")
	ErrInvalidPlanConfig = errors.New("billing: invalid plan configuration")
	ErrPlansFileNotFound = errors.New("billing: plans file not found")
	ErrInvalidPlansFile  = errors.New("billing: invalid plans file")

	ErrAuthenticationFailed = errors.New("billing: webhook authentication failed")
	ErrMalformedPayload     = errors.New("billing: malformed webhook payload")

	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrStaleTransition      = errors.New("billing: subscription changed concurrently")
	ErrDuplicateTransaction = errors.New("billing: transaction already recorded")
	ErrTransactionNotFound  = errors.New("billing: transaction not recorded")

	// ErrConflictingActiveSubscription is surfaced when a restore or
	// activation would leave a user with two active subscriptions. It is
	// never resolved silently.
	ErrConflictingActiveSubscription = errors.New("billing: another subscription is already active for this user")
)
