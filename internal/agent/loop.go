// internal/agent/loop.go

// Package agent drives one natural-language instruction to completion: query
// the decision oracle, apply its actions, assess progress, repeat. The loop
// holds no browser knowledge beyond the Perceptor and ActionExecutor
// interfaces, which keeps it fully testable with scripted fakes.
package agent

import (
	"context"
	"fmt"
	"hash/fnv"

	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/config"
	"github.com/halcyondata/browser-operator/internal/oracle"
)

// Result is a successful operation: the oracle's summary plus the final page
// evidence.
type Result struct {
	Text       string
	Screenshot string
	Steps      int
	FinalURL   string
}

// Loop runs instructions against one session.
type Loop struct {
	oracle    oracle.Oracle
	perceptor schemas.Perceptor
	executor  schemas.ActionExecutor
	cfg       config.AgentConfig
	logger    *zap.Logger
}

// New assembles a loop from its three collaborators.
func New(o oracle.Oracle, p schemas.Perceptor, e schemas.ActionExecutor, cfg config.AgentConfig, logger *zap.Logger) *Loop {
	return &Loop{
		oracle:    o,
		perceptor: p,
		executor:  e,
		cfg:       cfg,
		logger:    logger.Named("agent_loop"),
	}
}

// loopState is the per-run mutable state.
type loopState struct {
	instruction string
	steps       int
	history     []schemas.ActionOutcome
	current     *schemas.PageContext
	lastAction  schemas.ActionType

	lastFingerprint uint64
	repeatCount     int
	recoveries      int
	explored        map[string]bool
}

// Run drives the instruction until the oracle declares completion or a
// terminal condition fires. Cancellation is observed between steps only; a
// step that has started always finishes.
func (l *Loop) Run(ctx context.Context, instruction string) (*Result, error) {
	st := &loopState{
		instruction: instruction,
		explored:    make(map[string]bool),
	}

	pc, err := l.perceptor.Capture(ctx)
	if err != nil {
		return nil, schemas.NewOperationError(schemas.CodeSessionUnavailable,
			"initial page capture failed", err)
	}
	st.current = pc

	for st.steps < l.cfg.StepBudget {
		if err := ctx.Err(); err != nil {
			return nil, l.fail(st, schemas.CodeCancelled, "operation cancelled", err)
		}

		decision, err := l.query(ctx, st)
		if err != nil {
			if ctx.Err() != nil {
				return nil, l.fail(st, schemas.CodeCancelled, "operation cancelled", ctx.Err())
			}
			return nil, l.fail(st, schemas.CodeOracleError,
				fmt.Sprintf("oracle failed after %d attempts", l.cfg.OracleAttempts()), err)
		}
		st.steps++

		if decision.Done {
			l.logger.Info("Instruction complete.",
				zap.Int("steps", st.steps), zap.String("summary", decision.Summary))
			return l.result(st, decision.Summary), nil
		}

		if err := l.applyBatch(ctx, st, decision.Actions); err != nil {
			return nil, l.fail(st, schemas.CodeSessionUnavailable, "action execution broke the session", err)
		}

		if stuck := l.assess(st); stuck {
			if st.recoveries > 0 {
				return nil, l.fail(st, schemas.CodeStuckLoop,
					fmt.Sprintf("no progress after %d identical assessments and a recovery attempt", st.repeatCount), nil)
			}
			if err := l.recover(ctx, st); err != nil {
				return nil, err
			}
		}
	}

	return nil, l.fail(st, schemas.CodeStepBudgetExceeded,
		fmt.Sprintf("step budget of %d exhausted", l.cfg.StepBudget), nil)
}

// query asks the oracle for the next batch, retrying failures up to the
// configured attempt count.
func (l *Loop) query(ctx context.Context, st *loopState) (oracle.Decision, error) {
	req := oracle.Request{
		Instruction: st.instruction,
		Context:     st.current,
		History:     l.window(st.history),
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.OracleAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return oracle.Decision{}, err
		}
		decision, err := l.oracle.Decide(ctx, req)
		if err == nil {
			return decision, nil
		}
		lastErr = err
		l.logger.Warn("Oracle query failed.", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return oracle.Decision{}, lastErr
}

// applyBatch executes actions in order. An outcome that changed the page
// aborts the rest of the batch: the remaining coordinates were planned
// against a page that no longer exists.
func (l *Loop) applyBatch(ctx context.Context, st *loopState, actions []schemas.Action) error {
	for i, action := range actions {
		outcome, err := l.executor.Execute(ctx, action)
		if err != nil {
			return err
		}
		st.history = append(st.history, outcome)
		st.lastAction = action.Type
		if action.Type == schemas.ActionClick || action.Type == schemas.ActionDoubleClick {
			// Resolve the coordinates against the page they were aimed at,
			// before the post-action context replaces it.
			l.markExplored(st, action.X, action.Y)
		}
		if outcome.Context != nil {
			st.current = outcome.Context
		}
		if outcome.PageChanged && i < len(actions)-1 {
			l.logger.Debug("Page changed mid-batch; discarding remaining actions.",
				zap.Int("discarded", len(actions)-i-1))
			return nil
		}
	}
	return nil
}

// assess updates the stagnation fingerprint and reports whether the loop has
// repeated itself past the threshold. A moved fingerprint is progress and
// re-arms recovery; only a stall that follows a recovery with no progress in
// between is terminal.
func (l *Loop) assess(st *loopState) bool {
	fp := stateFingerprint(st.current, st.lastAction)
	if fp == st.lastFingerprint {
		st.repeatCount++
	} else {
		st.lastFingerprint = fp
		st.repeatCount = 1
		st.recoveries = 0
	}
	return st.repeatCount >= l.cfg.StuckThreshold
}

// recover synthesizes one exploratory click on the most prominent element the
// run has not touched yet. No such element means there is nothing left to
// try.
func (l *Loop) recover(ctx context.Context, st *loopState) error {
	target, ok := l.pickUnexplored(st)
	if !ok {
		return l.fail(st, schemas.CodeStuckLoop, "stuck with no unexplored elements left", nil)
	}

	l.logger.Info("Stuck; trying an unexplored element.",
		zap.String("label", target.Label), zap.Int("x", target.CenterX), zap.Int("y", target.CenterY))
	st.recoveries++
	// The fingerprint stays: if the recovery click moves it, the next assess
	// counts that as progress and re-arms recovery.
	st.repeatCount = 0

	outcome, err := l.executor.Execute(ctx, schemas.Action{
		Type: schemas.ActionClick, X: target.CenterX, Y: target.CenterY,
	})
	if err != nil {
		return l.fail(st, schemas.CodeSessionUnavailable, "recovery action broke the session", err)
	}
	st.history = append(st.history, outcome)
	st.lastAction = schemas.ActionClick
	st.explored[elementKey(target)] = true
	if outcome.Context != nil {
		st.current = outcome.Context
	}
	return nil
}

func (l *Loop) pickUnexplored(st *loopState) (schemas.PageElement, bool) {
	if st.current == nil {
		return schemas.PageElement{}, false
	}
	for _, el := range st.current.Elements {
		if !st.explored[elementKey(el)] {
			return el, true
		}
	}
	return schemas.PageElement{}, false
}

// markExplored records which element a click landed on, so recovery does not
// re-suggest it.
func (l *Loop) markExplored(st *loopState, x, y int) {
	if st.current == nil {
		return
	}
	for _, el := range st.current.Elements {
		if x >= el.Left && x < el.Left+el.Width && y >= el.Top && y < el.Top+el.Height {
			st.explored[elementKey(el)] = true
			return
		}
	}
}

func (l *Loop) window(history []schemas.ActionOutcome) []schemas.ActionOutcome {
	if l.cfg.HistoryWindow > 0 && len(history) > l.cfg.HistoryWindow {
		return history[len(history)-l.cfg.HistoryWindow:]
	}
	return history
}

func (l *Loop) result(st *loopState, summary string) *Result {
	r := &Result{Text: summary, Steps: st.steps}
	if st.current != nil {
		r.Screenshot = st.current.Screenshot
		r.FinalURL = st.current.URL
	}
	return r
}

func (l *Loop) fail(st *loopState, code schemas.ErrorCode, msg string, cause error) error {
	oe := schemas.NewOperationError(code, msg, cause)
	oe.History = st.history
	l.logger.Warn("Operation failed.",
		zap.String("code", string(code)), zap.Int("steps", st.steps), zap.Error(cause))
	return oe
}

// stateFingerprint combines the page fingerprint with the last applied action
// type. Two cycles match only when the page looks the same AND the loop just
// did the same kind of thing to it.
func stateFingerprint(pc *schemas.PageContext, last schemas.ActionType) uint64 {
	h := fnv.New64a()
	var pageFP uint64
	if pc != nil {
		pageFP = pc.Fingerprint()
	}
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(pageFP >> (8 * i))
	}
	h.Write(buf[:])
	h.Write([]byte(last))
	return h.Sum64()
}

func elementKey(el schemas.PageElement) string {
	return el.Kind + "|" + el.Label
}
