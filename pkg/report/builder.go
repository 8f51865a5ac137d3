package report

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/operion-monitor/pkg/log"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/registry"
	"github.com/go-playground/validator/v10"
)

const separator = "/"

// Builder turns a workflow description and its profile into a report tree.
type Builder struct {
	registry *registry.Registry
	validate *validator.Validate
	logger   *slog.Logger
}

func NewBuilder(reg *registry.Registry, logger *slog.Logger) *Builder {
	return &Builder{
		registry: reg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "report_builder"),
	}
}

// Build is a convenience wrapper around Builder.Build that discards logs.
func Build(desc *models.Workflow, profile *models.Profile, reg *registry.Registry) (*Tree, error) {
	return NewBuilder(reg, log.Discard()).Build(desc, profile)
}

// Build walks the description and creates one report node per workflow,
// step and bound activity, recursing into sub-workflows.
func (b *Builder) Build(desc *models.Workflow, profile *models.Profile) (*Tree, error) {
	if desc == nil {
		return nil, newConfigurationError("workflow", fmt.Errorf("%w: nil description", ErrInvalidDescription))
	}

	tree := newTree()

	root, err := b.buildWorkflow(tree, "", desc, profile)
	if err != nil {
		return nil, err
	}

	tree.root = root

	b.logger.Debug("Built report tree", "workflow_id", desc.ID, "nodes", tree.Len())

	return tree, nil
}

func (b *Builder) buildWorkflow(tree *Tree, prefix string, desc *models.Workflow, profile *models.Profile) (*WorkflowReport, error) {
	err := b.validateStruct(desc.ID, desc)
	if err != nil {
		return nil, err
	}

	if profile != nil {
		err = b.validateStruct(desc.ID, profile)
		if err != nil {
			return nil, err
		}
	}

	workflow := &WorkflowReport{base: newBase(join(prefix, desc.ID), desc.ID)}
	if !tree.insert(workflow) {
		return nil, newConfigurationError(desc.ID, fmt.Errorf("%w: duplicate key %s", ErrInvalidDescription, workflow.key))
	}

	for _, step := range desc.Steps {
		stepReport, err := b.buildStep(tree, workflow.key, step, profile)
		if err != nil {
			return nil, err
		}

		workflow.steps = append(workflow.steps, stepReport)
	}

	return workflow, nil
}

func (b *Builder) buildStep(tree *Tree, prefix string, step *models.Step, profile *models.Profile) (*StepReport, error) {
	stepReport := &StepReport{base: newBase(join(prefix, step.ID), step.ID)}
	if !tree.insert(stepReport) {
		return nil, newConfigurationError(step.ID, fmt.Errorf("%w: duplicate step key %s", ErrInvalidDescription, stepReport.key))
	}

	for _, activity := range profile.ActivitiesFor(step.ID) {
		activityReport, err := b.buildActivity(tree, stepReport.key, activity)
		if err != nil {
			return nil, err
		}

		stepReport.activities = append(stepReport.activities, activityReport)
	}

	return stepReport, nil
}

func (b *Builder) buildActivity(tree *Tree, prefix string, activity *models.Activity) (*ActivityReport, error) {
	activityType, err := b.registry.Activity(activity.Type)
	if err != nil {
		return nil, newConfigurationError(activity.ID, fmt.Errorf("%w: %w", ErrUnknownActivityType, err))
	}

	activityReport := &ActivityReport{base: newBase(join(prefix, activity.ID), activity.ID)}
	if !tree.insert(activityReport) {
		return nil, newConfigurationError(activity.ID, fmt.Errorf("%w: duplicate activity key %s", ErrInvalidDescription, activityReport.key))
	}

	if !activityType.Nested {
		return activityReport, nil
	}

	if activity.Workflow == nil {
		return nil, newConfigurationError(activity.ID,
			fmt.Errorf("%w: activity of type %s has no nested workflow", ErrInvalidDescription, activity.Type))
	}

	nested, err := b.buildWorkflow(tree, activityReport.key, activity.Workflow, activity.Profile)
	if err != nil {
		return nil, err
	}

	activityReport.Nested = nested

	return activityReport, nil
}

func (b *Builder) validateStruct(subject string, value any) error {
	err := b.validate.Struct(value)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			fields = append(fields, fieldErr.Namespace()+" "+fieldErr.Tag())
		}

		return newConfigurationError(subject, fmt.Errorf("%w: %s", ErrInvalidDescription, strings.Join(fields, ", ")))
	}

	return newConfigurationError(subject, fmt.Errorf("%w: %w", ErrInvalidDescription, err))
}

func join(prefix, segment string) string {
	if prefix == "" {
		return segment
	}

	return prefix + separator + segment
}
