package schemas

import "context"

// -- Component Interfaces --

// Perceptor captures the current page state. Implemented by the page context
// builder; faked in loop tests.
type Perceptor interface {
	Capture(ctx context.Context) (*PageContext, error)
}

// ActionExecutor applies one concrete action to a live page. Implemented by
// the action translator; faked in loop tests. Execute returns an error only
// for infrastructure failures; action-level failures come back inside the
// outcome.
type ActionExecutor interface {
	Execute(ctx context.Context, action Action) (ActionOutcome, error)
}
