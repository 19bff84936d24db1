package stream

import "log"

type runState int

const (
	stateIdle runState = iota
	stateStarted
	stateStreaming
	stateTerminated
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateStarted:
		return "started"
	case stateStreaming:
		return "streaming"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// stateTransitions pins the legal lifecycle of one run: the start event
// comes first, increments only after it, and nothing follows a
// terminal event.
var stateTransitions = map[runState][]runState{
	stateIdle:      {stateStarted},
	stateStarted:   {stateStreaming, stateTerminated},
	stateStreaming: {stateStreaming, stateTerminated},
}

// advance moves the run to next, refusing and logging illegal moves.
func advance(cur *runState, next runState) bool {
	for _, allowed := range stateTransitions[*cur] {
		if next == allowed {
			*cur = next
			return true
		}
	}
	log.Printf("illegal stream transition %s -> %s", *cur, next)
	return false
}
