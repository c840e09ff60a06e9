package billing

import (
	"context"

	"github.com/google/uuid"
)

// NotificationKind names the lifecycle event a user is told about.
type NotificationKind string

const (
	NotifyActivated NotificationKind = "subscription_activated"
	NotifySuspended NotificationKind = "subscription_suspended"
	NotifyRestored  NotificationKind = "subscription_restored"
	NotifyCancelled NotificationKind = "subscription_cancelled"
	NotifyExpired   NotificationKind = "subscription_expired"
)

// Notification is the payload handed to the delivery collaborator.
type Notification struct {
	UserID         uuid.UUID
	SubscriptionID uuid.UUID
	PlanType       PlanType
	Kind           NotificationKind
}

// Notifier delivers user-facing notifications. Delivery transport (push,
// email) is owned by an external collaborator; the billing core only
// dispatches best-effort and never lets a delivery failure affect a
// webhook acknowledgment or an admin operation.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// NopNotifier discards notifications. Default when none is wired.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }
