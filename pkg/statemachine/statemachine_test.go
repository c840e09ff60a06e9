package statemachine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtsidehq/courtside/pkg/statemachine"
)

type status string

const (
	statusPending   status = "pending"
	statusActive    status = "active"
	statusSuspended status = "suspended"
	statusCancelled status = "cancelled"
)

func TestMachine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("registered transition passes", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New[status]()
		m.AddTransition(statusPending, statusActive)

		assert.True(t, m.CanTransition(statusPending, statusActive))
		assert.NoError(t, m.Transition(ctx, statusPending, statusActive, nil))
	})

	t.Run("unregistered transition rejected", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New[status]()
		m.AddTransition(statusPending, statusActive)

		err := m.Transition(ctx, statusCancelled, statusActive, nil)
		assert.ErrorIs(t, err, statemachine.ErrTransitionNotAllowed)
		assert.False(t, m.CanTransition(statusCancelled, statusActive))
	})

	t.Run("guard error propagates unwrapped", func(t *testing.T) {
		t.Parallel()

		conflict := errors.New("another row is active")
		m := statemachine.New[status]()
		m.AddTransition(statusSuspended, statusActive,
			func(ctx context.Context, from, to status, data any) error {
				return conflict
			})

		err := m.Transition(ctx, statusSuspended, statusActive, nil)
		assert.ErrorIs(t, err, conflict)
	})

	t.Run("guards run in order and stop at first failure", func(t *testing.T) {
		t.Parallel()

		var order []int
		first := errors.New("first")

		m := statemachine.New[status]()
		m.AddTransition(statusActive, statusSuspended,
			func(ctx context.Context, from, to status, data any) error {
				order = append(order, 1)
				return first
			},
			func(ctx context.Context, from, to status, data any) error {
				order = append(order, 2)
				return nil
			})

		err := m.Transition(ctx, statusActive, statusSuspended, nil)
		require.ErrorIs(t, err, first)
		assert.Equal(t, []int{1}, order)
	})

	t.Run("guard receives transition data", func(t *testing.T) {
		t.Parallel()

		m := statemachine.New[status]()
		m.AddTransition(statusPending, statusCancelled,
			func(ctx context.Context, from, to status, data any) error {
				assert.Equal(t, "row-7", data)
				return nil
			})

		require.NoError(t, m.Transition(ctx, statusPending, statusCancelled, "row-7"))
	})

	t.Run("re-registering an edge appends guards", func(t *testing.T) {
		t.Parallel()

		calls := 0
		guard := func(ctx context.Context, from, to status, data any) error {
			calls++
			return nil
		}

		m := statemachine.New[status]()
		m.AddTransition(statusActive, statusCancelled, guard)
		m.AddTransition(statusActive, statusCancelled, guard)

		require.NoError(t, m.Transition(ctx, statusActive, statusCancelled, nil))
		assert.Equal(t, 2, calls)
	})
}
