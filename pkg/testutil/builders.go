// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates a workflow with one step "s" that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	wf := &models.Workflow{
		ID:    "main",
		Name:  "Test Workflow",
		Steps: []*models.Step{{ID: "s"}},
	}

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// WithID sets the workflow ID.
func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithInputs declares depth-zero input ports.
func WithInputs(names ...string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Inputs = ports(names)
	}
}

// WithOutputs declares depth-zero output ports.
func WithOutputs(names ...string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Outputs = ports(names)
	}
}

// WithSteps replaces the steps with bare steps of the given IDs.
func WithSteps(ids ...string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = make([]*models.Step, 0, len(ids))
		for _, id := range ids {
			w.Steps = append(w.Steps, &models.Step{ID: id})
		}
	}
}

func ports(names []string) []models.Port {
	out := make([]models.Port, 0, len(names))
	for _, name := range names {
		out = append(out, models.Port{Name: name})
	}

	return out
}

// CreateTestProfile creates a profile from step ID to activities.
func CreateTestProfile(bindings map[string][]*models.Activity) *models.Profile {
	return &models.Profile{ID: uuid.New().String(), Bindings: bindings}
}

// Activity creates an activity of the given type.
func Activity(id, activityType string) *models.Activity {
	return &models.Activity{ID: id, Type: activityType}
}

// NestedActivity creates an activity that wraps wf.
func NestedActivity(id, activityType string, wf *models.Workflow, profile *models.Profile) *models.Activity {
	return &models.Activity{ID: id, Type: activityType, Workflow: wf, Profile: profile}
}
