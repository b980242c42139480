package events

// CheckpointPolicy decides when a run's history has grown enough to
// warrant a cutover to a fresh history seeded from a snapshot.
// MaxEvents <= 0 disables checkpointing.
type CheckpointPolicy struct {
	MaxEvents int `json:"max_events"`
}

// DefaultMaxEvents is the history length that triggers a cutover.
const DefaultMaxEvents = 1000

// DefaultCheckpointPolicy returns the production policy.
func DefaultCheckpointPolicy() CheckpointPolicy {
	return CheckpointPolicy{MaxEvents: DefaultMaxEvents}
}

// Crossed reports whether a history of n events meets the threshold.
func (p CheckpointPolicy) Crossed(n int) bool {
	if p.MaxEvents <= 0 {
		return false
	}
	return n >= p.MaxEvents
}

// Log is the append-only event sequence for one run and the only
// mutator of its derived state. A run owns its log exclusively and
// drives it from a single logical thread of control, so Append can
// update the sequence and the derived state together with no observer
// ever seeing one without the other.
type Log struct {
	events   []Event
	state    RunState
	policy   CheckpointPolicy
	signaled bool
}

// NewLog returns an empty log with the given checkpoint policy.
func NewLog(policy CheckpointPolicy) *Log {
	return &Log{state: NewRunState(), policy: policy}
}

// Append assigns the next sequence number, records the event, folds it
// into the derived state, and evaluates the checkpoint policy. The
// returned event carries its assigned Seq. The bool is true only for
// the single append that crosses the checkpoint threshold; subsequent
// appends return false even though the history remains above it.
func (l *Log) Append(ev Event) (Event, bool) {
	ev.Seq = len(l.events) + 1
	l.events = append(l.events, ev)
	l.state = Reduce(l.state, ev)

	checkpoint := false
	if !l.signaled && l.policy.Crossed(len(l.events)) {
		l.signaled = true
		checkpoint = true
	}
	return ev, checkpoint
}

// State returns the current derived state.
func (l *Log) State() RunState {
	return l.state
}

// Events returns a copy of the recorded sequence.
func (l *Log) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsSince returns a copy of the events with Seq greater than seq.
func (l *Log) EventsSince(seq int) []Event {
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.events) {
		return []Event{}
	}
	out := make([]Event, len(l.events)-seq)
	copy(out, l.events[seq:])
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	return len(l.events)
}

// CheckpointSignaled reports whether the policy has fired for this log.
func (l *Log) CheckpointSignaled() bool {
	return l.signaled
}
