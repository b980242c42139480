package plan

// Scheduler tracks which steps of a validated plan are ready to run.
// A step is ready once every step it depends on has been marked done.
// Ready never returns the same step twice, and among simultaneously
// ready steps declaration order is preserved.
//
// The scheduler holds no execution state beyond dependency counts; it
// is driven entirely by the caller and is safe to rebuild from a list
// of already-completed step ids after a snapshot restore.
type Scheduler struct {
	steps   []Step
	pending map[string]int
	next    map[string][]string
	issued  map[string]bool
	done    map[string]bool
}

// NewScheduler builds a scheduler over steps. The steps must already
// have passed Validate; an invalid graph makes Drained report false
// forever instead of erroring.
func NewScheduler(steps []Step) *Scheduler {
	s := &Scheduler{
		steps:   steps,
		pending: make(map[string]int, len(steps)),
		next:    make(map[string][]string, len(steps)),
		issued:  make(map[string]bool, len(steps)),
		done:    make(map[string]bool, len(steps)),
	}
	for _, st := range steps {
		s.pending[st.ID] = len(st.DependsOn)
		for _, dep := range st.DependsOn {
			s.next[dep] = append(s.next[dep], st.ID)
		}
	}
	return s
}

// Ready returns the steps whose dependencies are all done and that
// have not been handed out before, in declaration order.
func (s *Scheduler) Ready() []Step {
	var ready []Step
	for _, st := range s.steps {
		if s.issued[st.ID] || s.done[st.ID] {
			continue
		}
		if s.pending[st.ID] == 0 {
			s.issued[st.ID] = true
			ready = append(ready, st)
		}
	}
	return ready
}

// MarkDone records the completion of a step and unblocks its
// dependents. Marking an unknown or already-done step is a no-op.
func (s *Scheduler) MarkDone(id string) {
	if s.done[id] {
		return
	}
	if _, known := s.pending[id]; !known {
		return
	}
	s.done[id] = true
	s.issued[id] = true
	for _, dependent := range s.next[id] {
		if s.pending[dependent] > 0 {
			s.pending[dependent]--
		}
	}
}

// Drained reports whether every step has completed.
func (s *Scheduler) Drained() bool {
	return len(s.done) == len(s.steps)
}

// Outstanding returns the number of steps handed out but not yet done.
func (s *Scheduler) Outstanding() int {
	n := 0
	for id := range s.issued {
		if !s.done[id] {
			n++
		}
	}
	return n
}
