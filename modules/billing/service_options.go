package billing

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ServiceOption configures optional service collaborators.
type ServiceOption func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNotifier wires the user notification collaborator.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithNotifyTimeout bounds how long a best-effort notification dispatch is
// awaited before being abandoned (the dispatch itself keeps running).
func WithNotifyTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithClock overrides the time source. Tests use it for deterministic end
// dates and expiry checks.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides subscription id generation. Tests use it for
// deterministic tie-breaks.
func WithIDGenerator(gen func() uuid.UUID) ServiceOption {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithEntitlementInvalidator registers a hook called after every
// successful state transition for a user, letting a cache layer drop its
// entry before the next entitlement read. Hook errors are logged, never
// propagated.
func WithEntitlementInvalidator(fn InvalidateFunc) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.invalidate = fn
		}
	}
}
