package billing

import (
	"context"
	"time"
)

// Outcome records how a distinct notification was handled.
type Outcome string

const (
	// OutcomeApplied means the event caused a state transition.
	OutcomeApplied Outcome = "applied"
	// OutcomeRejected means the event was authentic but could not be
	// applied (e.g. unknown plan) and needs operator attention.
	OutcomeRejected Outcome = "rejected"
)

// LedgerEntry is the audit record of one distinct gateway notification.
// Entries are written once and never mutated.
type LedgerEntry struct {
	// TransactionID is the gateway token identifying the notification.
	TransactionID string
	ReceivedAt    time.Time
	// Digest is the SHA-256 of the normalized payload.
	Digest  string
	Outcome Outcome
}

// Ledger suppresses duplicate processing of gateway notifications.
//
// RecordIfNew must be an atomic check-and-insert: when the same transaction
// id is delivered concurrently any number of times, exactly one caller
// observes isNew=true and all others observe isNew=false. This is what
// turns the gateway's at-least-once delivery into at-most-once effect
// application.
type Ledger interface {
	// RecordIfNew inserts the entry unless one with the same transaction
	// id already exists. It reports whether the entry was inserted.
	RecordIfNew(ctx context.Context, entry LedgerEntry) (isNew bool, err error)

	// Get returns the recorded entry for the transaction id, or
	// ErrTransactionNotFound. Used for audit.
	Get(ctx context.Context, transactionID string) (*LedgerEntry, error)

	// Forget removes an entry. Used only as compensation when the state
	// transition following a fresh insert failed, so a gateway retry can
	// converge instead of being suppressed forever.
	Forget(ctx context.Context, transactionID string) error
}
