// Package models defines the static workflow description and the content tree records of a monitored run.
package models

// Port is a named input or output of a workflow or step.
type Port struct {
	Name        string `json:"name"                  validate:"required"`
	Depth       int    `json:"depth"                 validate:"min=0"`
	Description string `json:"description,omitempty"`
}

// Workflow is the already-validated static description of a workflow.
type Workflow struct {
	ID          string  `json:"id"                    validate:"required,excludesall=/"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Inputs      []Port  `json:"inputs"                validate:"dive"`
	Outputs     []Port  `json:"outputs"               validate:"dive"`
	Steps       []*Step `json:"steps"                 validate:"dive,required"`
}

// Step is one processing node of a workflow.
type Step struct {
	ID      string `json:"id"                validate:"required,excludesall=/"`
	Name    string `json:"name"`
	Inputs  []Port `json:"inputs"            validate:"dive"`
	Outputs []Port `json:"outputs"           validate:"dive"`
}

// Activity is one implementation bound to a step by a profile. Activities
// whose type wraps a sub-workflow carry it in Workflow, optionally with the
// profile that binds the sub-workflow's own steps.
type Activity struct {
	ID       string         `json:"id"                 validate:"required,excludesall=/"`
	Type     string         `json:"type"               validate:"required"`
	Config   map[string]any `json:"config,omitempty"`
	Workflow *Workflow      `json:"workflow,omitempty"`
	Profile  *Profile       `json:"profile,omitempty"`
}

// Profile selects which activities back each step, keyed by step ID.
type Profile struct {
	ID       string                 `json:"id"`
	Bindings map[string][]*Activity `json:"bindings" validate:"dive,dive,required"`
}

// Input returns the declared input port with the given name.
func (w *Workflow) Input(name string) (Port, bool) {
	for _, port := range w.Inputs {
		if port.Name == name {
			return port, true
		}
	}

	return Port{}, false
}

// Output returns the declared output port with the given name.
func (w *Workflow) Output(name string) (Port, bool) {
	for _, port := range w.Outputs {
		if port.Name == name {
			return port, true
		}
	}

	return Port{}, false
}

// ActivitiesFor returns the activities the profile binds to a step.
func (p *Profile) ActivitiesFor(stepID string) []*Activity {
	if p == nil {
		return nil
	}

	return p.Bindings[stepID]
}
