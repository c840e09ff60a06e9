package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded in-memory SubscriptionStore for tests and
// local development. All invariants of the interface hold: Activate is
// atomic under the lock and Transition is conditional on the expected
// status.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Subscription
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID]*Subscription)}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return clone(row), nil
}

func (m *MemoryStore) GetByTransactionID(_ context.Context, transactionID string) (*Subscription, error) {
	if transactionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.TransactionID == transactionID {
			return clone(row), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (m *MemoryStore) ActiveByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.activeByUserLocked(userID)
	if row == nil {
		return nil, ErrSubscriptionNotFound
	}
	return clone(row), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Subscription
	for _, row := range m.rows {
		if row.UserID == userID {
			out = append(out, clone(row))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Subscription
	for _, row := range m.rows {
		if row.Status == StatusActive {
			out = append(out, clone(row))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	m.rows[sub.ID] = clone(sub)
	return nil
}

func (m *MemoryStore) Activate(_ context.Context, sub *Subscription) (*Subscription, []uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := sub.StartsAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var cancelled []uuid.UUID
	for _, row := range m.rows {
		if row.UserID == sub.UserID && row.Status == StatusActive {
			at := now
			row.Status = StatusCancelled
			row.CancelledAt = &at
			row.UpdatedAt = at
			cancelled = append(cancelled, row.ID)
		}
	}

	// Promote a matching pending checkout instead of inserting a second
	// row for the same intent.
	if pending := m.pendingMatchLocked(sub); pending != nil {
		pending.Status = StatusActive
		pending.StartsAt = sub.StartsAt
		pending.EndsAt = sub.EndsAt
		pending.TransactionID = sub.TransactionID
		pending.PaymentMethod = sub.PaymentMethod
		pending.UpdatedAt = now
		return clone(pending), cancelled, nil
	}

	stored := clone(sub)
	stored.Status = StatusActive
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.rows[stored.ID] = stored
	return clone(stored), cancelled, nil
}

func (m *MemoryStore) Transition(_ context.Context, id uuid.UUID, expected Status, change StatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if row.Status != expected {
		return ErrStaleTransition
	}

	// Backstop for the one-active-per-user rule, mirroring the partial
	// unique index in postgres. The service validates before writing, but
	// an activation can commit between its read and this write.
	if change.To == StatusActive {
		if current := m.activeByUserLocked(row.UserID); current != nil && current.ID != id {
			return ErrConflictingActiveSubscription
		}
	}

	at := change.At
	row.Status = change.To
	row.UpdatedAt = at
	switch change.To {
	case StatusSuspended:
		row.SuspendedAt = &at
		row.SuspendedReason = change.Reason
	case StatusActive:
		row.RestoredAt = &at
	case StatusCancelled:
		row.CancelledAt = &at
	}
	return nil
}

func (m *MemoryStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, row := range m.rows {
		if row.Status == StatusActive && row.EndsAt != nil && row.EndsAt.Before(now) {
			row.Status = StatusExpired
			row.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) activeByUserLocked(userID uuid.UUID) *Subscription {
	var newest *Subscription
	for _, row := range m.rows {
		if row.UserID != userID || row.Status != StatusActive {
			continue
		}
		if newest == nil ||
			row.CreatedAt.After(newest.CreatedAt) ||
			(row.CreatedAt.Equal(newest.CreatedAt) && row.ID.String() < newest.ID.String()) {
			newest = row
		}
	}
	return newest
}

func (m *MemoryStore) pendingMatchLocked(sub *Subscription) *Subscription {
	var match *Subscription
	for _, row := range m.rows {
		if row.UserID != sub.UserID || row.Status != StatusPending || row.PlanType != sub.PlanType {
			continue
		}
		if sub.RefCommand != "" && row.RefCommand != sub.RefCommand {
			continue
		}
		if match == nil || row.CreatedAt.After(match.CreatedAt) {
			match = row
		}
	}
	return match
}

func sortNewestFirst(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID.String() < subs[j].ID.String()
	})
}

func clone(sub *Subscription) *Subscription {
	out := *sub
	return &out
}

// MemoryLedger is a mutex-guarded in-memory Ledger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]LedgerEntry
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]LedgerEntry)}
}

func (l *MemoryLedger) RecordIfNew(_ context.Context, entry LedgerEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[entry.TransactionID]; exists {
		return false, nil
	}
	l.entries[entry.TransactionID] = entry
	return true, nil
}

func (l *MemoryLedger) Get(_ context.Context, transactionID string) (*LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &entry, nil
}

func (l *MemoryLedger) Forget(_ context.Context, transactionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, transactionID)
	return nil
}
