// Package plan defines the execution plan model: ordered steps with
// optional dependencies and compensation descriptors.
package plan

// Step is a single unit of work in a plan. A step names the tool that
// executes it, the input handed to that tool, and optionally a
// compensating tool that semantically undoes the step during rollback.
// Steps are immutable once a plan has been generated.
type Step struct {
	ID                string                 `json:"id"`
	Tool              string                 `json:"tool"`
	Input             map[string]interface{} `json:"input,omitempty"`
	DependsOn         []string               `json:"depends_on,omitempty"`
	Compensation      string                 `json:"compensation,omitempty"`
	CompensationInput map[string]interface{} `json:"compensation_input,omitempty"`
}

// HasCompensation reports whether the step declares a compensating tool.
func (s Step) HasCompensation() bool {
	return s.Compensation != ""
}

// Plan is the ordered set of steps produced by the planner or served
// from the plan cache. Declaration order is authoritative for
// scheduling tie-breaks between simultaneously ready steps.
type Plan struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id,omitempty"`
	Steps      []Step `json:"steps"`
}

// StepIDs returns the step identifiers in declaration order.
func (p Plan) StepIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Step returns the step with the given id, or false if absent.
func (p Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
