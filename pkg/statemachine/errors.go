package statemachine

import "errors"

// ErrTransitionNotAllowed indicates the requested edge is not part of the
// transition table.
var ErrTransitionNotAllowed = errors.New("statemachine: transition not allowed")
