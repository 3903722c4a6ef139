// internal/oracle/scripted.go
package oracle

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedOracle replays a fixed sequence of decisions and errors. Tests use
// it to drive the agent loop without a network.
type ScriptedOracle struct {
	mu    sync.Mutex
	steps []scriptedStep
	calls int
}

type scriptedStep struct {
	decision Decision
	err      error
}

// NewScripted creates an empty scripted oracle.
func NewScripted() *ScriptedOracle {
	return &ScriptedOracle{}
}

// Reply queues a successful decision.
func (s *ScriptedOracle) Reply(d Decision) *ScriptedOracle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptedStep{decision: d})
	return s
}

// Fail queues an error.
func (s *ScriptedOracle) Fail(err error) *ScriptedOracle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, scriptedStep{err: err})
	return s
}

// Calls reports how many times Decide ran.
func (s *ScriptedOracle) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Decide pops the next queued step. Running past the script is a test bug and
// returns an error loud enough to notice.
func (s *ScriptedOracle) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.steps) == 0 {
		return Decision{}, fmt.Errorf("scripted oracle exhausted after %d calls", s.calls)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.decision, step.err
}

var _ Oracle = (*ScriptedOracle)(nil)
