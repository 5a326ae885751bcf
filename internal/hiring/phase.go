package hiring

import "fmt"

// Phase is a hiring attempt's position in the two-step transaction flow.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseApproving
	PhaseApproved
	PhaseDepositing
	PhaseCompleted
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseValidating: "validating",
	PhaseApproving:  "approving",
	PhaseApproved:   "approved",
	PhaseDepositing: "depositing",
	PhaseCompleted:  "completed",
	PhaseFailed:     "failed",
}

// transitions lists the legal successors of every phase. Failed is reachable
// from every non-terminal phase; terminal phases have no successors.
var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseValidating, PhaseFailed},
	PhaseValidating: {PhaseApproving, PhaseFailed},
	PhaseApproving:  {PhaseApproved, PhaseFailed},
	PhaseApproved:   {PhaseDepositing, PhaseFailed},
	PhaseDepositing: {PhaseCompleted, PhaseFailed},
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText renders the phase name in JSON payloads.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase converts a phase name back into a Phase.
func ParsePhase(name string) (Phase, error) {
	for phase, n := range phaseNames {
		if n == name {
			return phase, nil
		}
	}
	return PhaseIdle, fmt.Errorf("未知的雇佣阶段: %s", name)
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransition reports whether to is a legal successor of p.
func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}
