package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks the structural invariants of a plan: every step has
// an id and a tool, ids are unique, dependencies reference declared
// steps, compensation inputs only appear alongside a compensation, and
// the dependency graph is acyclic.
func Validate(p Plan) error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s has no steps", p.ID)
	}

	index := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("plan %s: step %d has no id", p.ID, i)
		}
		if s.Tool == "" {
			return fmt.Errorf("plan %s: step %s has no tool", p.ID, s.ID)
		}
		if _, dup := index[s.ID]; dup {
			return fmt.Errorf("plan %s: duplicate step id %s", p.ID, s.ID)
		}
		if len(s.CompensationInput) > 0 && s.Compensation == "" {
			return fmt.Errorf("plan %s: step %s declares compensation_input without a compensation tool", p.ID, s.ID)
		}
		index[s.ID] = struct{}{}
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("plan %s: step %s depends on itself", p.ID, s.ID)
			}
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("plan %s: step %s depends on unknown step %s", p.ID, s.ID, dep)
			}
		}
	}

	if _, err := TopoOrder(p.Steps); err != nil {
		return fmt.Errorf("plan %s: %w", p.ID, err)
	}
	return nil
}

// TopoOrder returns step ids in a topological order of the dependency
// graph. Among steps that become ready at the same time, declaration
// order wins, so a plan without dependencies keeps its declared order.
// Returns an error naming the stuck steps when the graph has a cycle.
func TopoOrder(steps []Step) ([]string, error) {
	pending := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	position := make(map[string]int, len(steps))

	for i, s := range steps {
		position[s.ID] = i
		pending[s.ID] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	ready := make([]string, 0, len(steps))
	for _, s := range steps {
		if pending[s.ID] == 0 {
			ready = append(ready, s.ID)
		}
	}

	order := make([]string, 0, len(steps))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			pending[next]--
			if pending[next] == 0 {
				ready = insertByPosition(ready, next, position)
			}
		}
	}

	if len(order) != len(steps) {
		stuck := make([]string, 0)
		for id, n := range pending {
			if n > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving steps [%s]", strings.Join(stuck, ", "))
	}
	return order, nil
}

// insertByPosition keeps the ready queue sorted by declaration order.
func insertByPosition(ready []string, id string, position map[string]int) []string {
	i := sort.Search(len(ready), func(i int) bool {
		return position[ready[i]] > position[id]
	})
	ready = append(ready, "")
	copy(ready[i+1:], ready[i:])
	ready[i] = id
	return ready
}
