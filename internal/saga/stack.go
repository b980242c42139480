// Package saga implements the compensation engine: a LIFO stack of
// compensating actions registered as plan steps succeed, and a
// best-effort rollback that drains the stack in reverse registration
// order when a run fails or is cancelled.
package saga

// CompensationStep is a registered compensating action. The input map
// is resolved against the compensated step's result at registration
// time and frozen; rollback never re-resolves it.
type CompensationStep struct {
	StepID string                 `json:"step_id"`
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input,omitempty"`
}

// CompensationResult is the tagged outcome of one compensation
// invocation during rollback. Failures are recorded here instead of
// aborting the remaining rollback sequence.
type CompensationResult struct {
	StepID  string                 `json:"step_id"`
	Tool    string                 `json:"tool"`
	Success bool                   `json:"success"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Stack is the LIFO registry of compensations for one run. It is owned
// by a single workflow execution and is not safe for shared use.
type Stack struct {
	entries    []CompensationStep
	rolledBack bool
}

// NewStack returns an empty compensation stack.
func NewStack() *Stack {
	return &Stack{}
}

// Register pushes a compensation. Called only after the compensated
// step has succeeded, before its result is reported to the caller.
func (s *Stack) Register(step CompensationStep) {
	s.entries = append(s.entries, step)
}

// Len returns the number of registered, unconsumed compensations.
func (s *Stack) Len() int {
	return len(s.entries)
}

// RolledBack reports whether rollback has already consumed the stack.
func (s *Stack) RolledBack() bool {
	return s.rolledBack
}

// Drain removes every entry in reverse registration order and marks
// the stack rolled back. A second call returns an empty slice, which
// makes rollback idempotent when two failure paths race to trigger it.
func (s *Stack) Drain() []CompensationStep {
	if s.rolledBack {
		return []CompensationStep{}
	}
	s.rolledBack = true
	drained := make([]CompensationStep, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		drained = append(drained, s.entries[i])
	}
	s.entries = nil
	return drained
}

// Snapshot is the serializable form of a stack, carried across a
// checkpoint cutover.
type Snapshot struct {
	Entries    []CompensationStep `json:"entries,omitempty"`
	RolledBack bool               `json:"rolled_back,omitempty"`
}

// Export captures the stack in registration order for a checkpoint
// snapshot. The stack itself is unchanged.
func (s *Stack) Export() Snapshot {
	entries := make([]CompensationStep, len(s.entries))
	copy(entries, s.entries)
	return Snapshot{Entries: entries, RolledBack: s.rolledBack}
}

// Restore rebuilds a stack from a snapshot taken by Export.
func Restore(snap Snapshot) *Stack {
	entries := make([]CompensationStep, len(snap.Entries))
	copy(entries, snap.Entries)
	return &Stack{entries: entries, rolledBack: snap.RolledBack}
}
