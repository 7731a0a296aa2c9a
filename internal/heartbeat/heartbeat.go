// Package heartbeat implements the per-agent health monitor (spec component
// C7, section 4.7.2): sliding windows over empty responses, identical
// consecutive outputs, repeated identical tool calls, and cycle wallclock.
// CycleHandler calls Monitor.Observe at the end of every cycle and reacts to
// the returned Verdict rather than inlining the bookkeeping itself, since
// the teacher treats liveness/health monitoring as its own testable unit
// (see DESIGN.md).
package heartbeat

import (
	"sync"
	"time"
)

// Config tunes the thresholds a Monitor breaches on.
type Config struct {
	// EmptyResponseLimit is how many consecutive empty FinalResponse texts
	// are tolerated before a breach.
	EmptyResponseLimit int `yaml:"empty_response_limit"`

	// RepeatedOutputLimit is how many consecutive identical FinalResponse
	// texts are tolerated before a breach.
	RepeatedOutputLimit int `yaml:"repeated_output_limit"`

	// RepeatedToolCallLimit is how many consecutive identical (name+args)
	// tool invocations are tolerated before a breach.
	RepeatedToolCallLimit int `yaml:"repeated_tool_call_limit"`

	// MaxCycleWallclock flags a single cycle as unhealthy if it runs longer
	// than this. Zero disables the check.
	MaxCycleWallclock time.Duration `yaml:"max_cycle_wallclock"`

	// CorrectiveAfter is how many breaches within a window trigger the
	// "you appear to be looping" corrective system message (spec section
	// 4.7.2's "on the 3rd breach" example).
	CorrectiveAfter int `yaml:"corrective_after"`

	// ForceErrorAfter is how many breaches force the agent to Error (spec
	// section 4.7.2's "on the 5th breach" example). Must be >= CorrectiveAfter.
	ForceErrorAfter int `yaml:"force_error_after"`
}

// DefaultConfig matches the cadence spec.md section 8 scenario 6 describes:
// a corrective nudge after the 3rd identical-empty-response cycle, Error
// after the 5th.
func DefaultConfig() Config {
	return Config{
		EmptyResponseLimit:    1,
		RepeatedOutputLimit:   1,
		RepeatedToolCallLimit: 1,
		MaxCycleWallclock:     0,
		CorrectiveAfter:       3,
		ForceErrorAfter:       5,
	}
}

// Action is what the CycleHandler should do in response to a Verdict.
type Action string

const (
	// ActionNone: cycle looked healthy, no intervention.
	ActionNone Action = "none"
	// ActionCorrect: inject the corrective system message and continue.
	ActionCorrect Action = "correct"
	// ActionForceError: move the agent to Error, breach threshold exceeded.
	ActionForceError Action = "force_error"
)

// CorrectiveMessage is the system-role text injected on ActionCorrect, per
// spec.md section 8 scenario 6.
const CorrectiveMessage = "You appear to be looping; try a different approach."

// Verdict is returned by Observe after recording one cycle's outcome.
type Verdict struct {
	Action Action
	Reason string
}

// CycleObservation is what CycleHandler reports about a just-finished cycle.
type CycleObservation struct {
	ResponseText  string
	ToolCallKey   string // empty if no tool was called this cycle
	Wallclock     time.Duration
}

// agentWindow is the per-agent sliding state the monitor tracks.
type agentWindow struct {
	lastResponse     string
	emptyStreak      int
	repeatStreak     int
	lastToolCallKey  string
	toolRepeatStreak int
	breaches         int
}

// Monitor tracks sliding-window health state per agent. The zero value is
// not usable; construct with New.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]*agentWindow
}

// New creates a Monitor using cfg, falling back to DefaultConfig's
// thresholds for any zero field that has no sensible zero meaning.
func New(cfg Config) *Monitor {
	if cfg.EmptyResponseLimit <= 0 {
		cfg.EmptyResponseLimit = DefaultConfig().EmptyResponseLimit
	}
	if cfg.RepeatedOutputLimit <= 0 {
		cfg.RepeatedOutputLimit = DefaultConfig().RepeatedOutputLimit
	}
	if cfg.RepeatedToolCallLimit <= 0 {
		cfg.RepeatedToolCallLimit = DefaultConfig().RepeatedToolCallLimit
	}
	if cfg.CorrectiveAfter <= 0 {
		cfg.CorrectiveAfter = DefaultConfig().CorrectiveAfter
	}
	if cfg.ForceErrorAfter <= 0 {
		cfg.ForceErrorAfter = DefaultConfig().ForceErrorAfter
	}
	return &Monitor{cfg: cfg, windows: make(map[string]*agentWindow)}
}

// Observe records the outcome of one cycle for agentID and returns the
// action the CycleHandler should take. A breach increments the agent's
// running breach count; a cycle with no breach sets it back to zero.
func (m *Monitor) Observe(agentID string, obs CycleObservation) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[agentID]
	if !ok {
		w = &agentWindow{}
		m.windows[agentID] = w
	}

	breached := false
	var reason string

	if obs.ResponseText == "" {
		w.emptyStreak++
		if w.emptyStreak >= m.cfg.EmptyResponseLimit {
			breached = true
			reason = "empty response streak"
		}
	} else {
		w.emptyStreak = 0
	}

	if obs.ResponseText != "" && obs.ResponseText == w.lastResponse {
		w.repeatStreak++
		if w.repeatStreak >= m.cfg.RepeatedOutputLimit {
			breached = true
			reason = "identical consecutive output"
		}
	} else {
		w.repeatStreak = 0
	}
	w.lastResponse = obs.ResponseText

	if obs.ToolCallKey != "" && obs.ToolCallKey == w.lastToolCallKey {
		w.toolRepeatStreak++
		if w.toolRepeatStreak >= m.cfg.RepeatedToolCallLimit {
			breached = true
			reason = "repeated identical tool call"
		}
	} else {
		w.toolRepeatStreak = 0
	}
	w.lastToolCallKey = obs.ToolCallKey

	if m.cfg.MaxCycleWallclock > 0 && obs.Wallclock > m.cfg.MaxCycleWallclock {
		breached = true
		reason = "cycle wallclock exceeded"
	}

	if !breached {
		w.breaches = 0
		return Verdict{Action: ActionNone}
	}

	w.breaches++
	switch {
	case w.breaches >= m.cfg.ForceErrorAfter:
		return Verdict{Action: ActionForceError, Reason: reason}
	case w.breaches >= m.cfg.CorrectiveAfter:
		return Verdict{Action: ActionCorrect, Reason: reason}
	default:
		return Verdict{Action: ActionNone, Reason: reason}
	}
}

// Reset clears an agent's sliding-window state, used when the agent is
// reset out of Error back to a fresh run.
func (m *Monitor) Reset(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, agentID)
}

// BreachCount reports the agent's current consecutive-breach count, mostly
// for tests and diagnostics.
func (m *Monitor) BreachCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[agentID]; ok {
		return w.breaches
	}
	return 0
}
