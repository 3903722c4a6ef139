// internal/oracle/oracle.go

// Package oracle talks to the vision decision service that plans browser
// actions. The agent loop depends only on the Oracle interface; the HTTP
// client and the scripted test double both satisfy it.
package oracle

import (
	"context"

	"github.com/halcyondata/browser-operator/api/schemas"
)

// Request is one decision query: the instruction, the current page, and the
// recent action history.
type Request struct {
	Instruction string
	Context     *schemas.PageContext
	History     []schemas.ActionOutcome
}

// Decision is the oracle's answer: an ordered action batch, or a completion
// with a summary. A decision with Done set carries no actions to apply.
type Decision struct {
	Actions []schemas.Action
	Done    bool
	Summary string
}

// Oracle produces the next action batch for a page state.
type Oracle interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}
