// Package statemachine implements a guarded transition table generic over
// any comparable state type.
//
// The machine deliberately holds no "current" state. Entities whose state
// lives in a shared store (such as subscription rows mutated by concurrent
// request handlers) cannot rely on an in-process pointer; they load their
// state, validate the intended change against the table, and persist it
// with a conditional write. Guards carry the runtime checks that a static
// table cannot express:
//
//	m := statemachine.New[Status]()
//	m.AddTransition(StatusSuspended, StatusActive, noOtherActiveGuard)
//
//	if err := m.Transition(ctx, sub.Status, StatusActive, sub); err != nil {
//		return err
//	}
package statemachine
