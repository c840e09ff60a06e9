// Package billing implements the subscription lifecycle core of the
// Courtside platform: plan catalog, payment-gateway webhook verification,
// an idempotency ledger for at-most-once effect application, guarded
// subscription state transitions, entitlement checks, and administrative
// recovery (suspend/restore/cancel/reconcile).
//
// The payment gateway delivers sale notifications at-least-once and in no
// particular order. The hard invariant maintained by every mutation path is
// that a user has at most one subscription in active status at any instant.
// All state transitions are validated by a shared transition table and
// persisted with conditional (status-checked) writes, so the invariant is
// enforced at the store level and holds across concurrently running service
// instances.
//
// # Webhook flow
//
//	form -> Verifier.Verify -> Ledger.RecordIfNew -> SubscriptionStore.Activate
//
// Duplicate deliveries are detected by the ledger (unique transaction id)
// and acknowledged without effect. Malformed payloads are acknowledged and
// logged, never retried by the provider. Authentication failures are
// rejected so the provider retries per its own policy.
//
// Stores live in the postgres subpackage; in-memory equivalents back the
// tests and local development.
package billing
