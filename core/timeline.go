package core

type StepStatus string

const (
	StepDone    StepStatus = "done"
	StepActive  StepStatus = "active"
	StepPending StepStatus = "pending"
)

var (
	canceledPath = []GovernanceState{StatePending, StateActive, StateCanceled}
	defeatedPath = []GovernanceState{StatePending, StateActive, StateDefeated}
	executedPath = []GovernanceState{StatePending, StateActive, StateSucceeded, StateQueued, StateExecuted}
	expiredPath  = []GovernanceState{StatePending, StateActive, StateSucceeded, StateQueued, StateExpired}
)

type Step struct {
	State  GovernanceState
	Status StepStatus
}

type Timeline struct {
	Path        []GovernanceState
	ActiveIndex int
	Steps       []Step
}

// TimelinePath selects the progress line for a state. In-flight states use
// the successful path since their terminal branch is not known yet.
func TimelinePath(s GovernanceState) []GovernanceState {
	var path []GovernanceState
	switch s {
	case StateCanceled:
		path = canceledPath
	case StateDefeated:
		path = defeatedPath
	case StateExpired:
		path = expiredPath
	default:
		path = executedPath
	}
	return append([]GovernanceState(nil), path...)
}

func BuildTimeline(s GovernanceState) Timeline {
	path := TimelinePath(s)

	idx := -1
	for i, st := range path {
		if st == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = 0
		if s == StateActive {
			idx = 1
		}
	}

	steps := make([]Step, len(path))
	for i, st := range path {
		status := StepPending
		switch {
		case i < idx:
			status = StepDone
		case i == idx:
			status = StepActive
		}
		steps[i] = Step{State: st, Status: status}
	}

	return Timeline{Path: path, ActiveIndex: idx, Steps: steps}
}
