package statemachine

import (
	"context"
	"fmt"
)

// Guard evaluates whether a specific transition may proceed given runtime
// conditions. Returning an error blocks the transition; the error is
// propagated unwrapped so callers can match it with errors.Is.
type Guard[S comparable] func(ctx context.Context, from, to S, data any) error

type edge[S comparable] struct {
	from S
	to   S
}

// Machine is a guarded transition table over states of a comparable type.
// Unlike a classic FSM it holds no current state: callers own their state
// (e.g. a database row's status column) and ask the machine to validate
// each change. A zero Machine allows nothing.
type Machine[S comparable] struct {
	transitions map[edge[S]][]Guard[S]
}

// New returns an empty Machine.
func New[S comparable]() *Machine[S] {
	return &Machine[S]{transitions: make(map[edge[S]][]Guard[S])}
}

// AddTransition registers from->to as legal, optionally protected by guards.
// Registering the same edge again appends guards to the existing ones.
func (m *Machine[S]) AddTransition(from, to S, guards ...Guard[S]) *Machine[S] {
	e := edge[S]{from: from, to: to}
	m.transitions[e] = append(m.transitions[e], guards...)
	return m
}

// CanTransition reports whether from->to is a registered edge. Guards are
// not consulted.
func (m *Machine[S]) CanTransition(from, to S) bool {
	_, ok := m.transitions[edge[S]{from: from, to: to}]
	return ok
}

// Transition validates from->to, running every guard in registration order.
// It returns ErrTransitionNotAllowed (wrapped with the states involved) for
// unregistered edges, or the first guard error.
func (m *Machine[S]) Transition(ctx context.Context, from, to S, data any) error {
	guards, ok := m.transitions[edge[S]{from: from, to: to}]
	if !ok {
		return fmt.Errorf("%w: %v -> %v", ErrTransitionNotAllowed, from, to)
	}

	for _, guard := range guards {
		if err := guard(ctx, from, to, data); err != nil {
			return err
		}
	}

	return nil
}
