// Package report builds and holds the permanent execution record of a run.
//
// The tree mirrors the static workflow description: workflow, step, activity
// and, for activities wrapping a sub-workflow, the nested workflow. Nodes are
// created once before execution and only ever gain timestamps and properties.
package report

import (
	"maps"
	"sync"
	"time"

	"github.com/dukex/operion-monitor/pkg/models"
)

// Kind discriminates report nodes.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindStep     Kind = "step"
	KindActivity Kind = "activity"
)

// Node is a report tree entry. Timestamps are set at most once each and
// completed and failed exclude each other.
type Node interface {
	Key() string
	Kind() Kind
	Subject() string

	MarkStarted(at time.Time) bool
	MarkCompleted(at time.Time) bool
	MarkFailed(at time.Time) bool
	MergeProperties(properties map[string]any) bool
	AttachInputs(ports map[string]models.Address)
	AttachOutputs(ports map[string]models.Address)
	Snapshot() Snapshot
}

// Snapshot is a point-in-time copy of a node, safe to hand to readers.
type Snapshot struct {
	Key         string         `json:"key"`
	Kind        Kind           `json:"kind"`
	Subject     string         `json:"subject"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Frozen      bool           `json:"frozen,omitempty"`
	Nested      string         `json:"nested,omitempty"`

	Inputs  map[string]models.Address `json:"inputs,omitempty"`
	Outputs map[string]models.Address `json:"outputs,omitempty"`
}

type base struct {
	key     string
	subject string

	mu          sync.RWMutex
	startedAt   *time.Time
	completedAt *time.Time
	failedAt    *time.Time
	properties  map[string]any
	frozen      bool
	inputs      map[string]models.Address
	outputs     map[string]models.Address
}

func newBase(key, subject string) base {
	return base{key: key, subject: subject, properties: make(map[string]any)}
}

func (b *base) Key() string     { return b.key }
func (b *base) Subject() string { return b.subject }

func (b *base) MarkStarted(at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.startedAt != nil {
		return false
	}

	b.startedAt = &at

	return true
}

func (b *base) MarkCompleted(at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completedAt != nil || b.failedAt != nil {
		return false
	}

	b.completedAt = &at

	return true
}

func (b *base) MarkFailed(at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completedAt != nil || b.failedAt != nil {
		return false
	}

	b.failedAt = &at

	return true
}

// MergeProperties overwrites matching property names with the latest values.
// Frozen nodes ignore the update.
func (b *base) MergeProperties(properties map[string]any) bool {
	if len(properties) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return false
	}

	maps.Copy(b.properties, properties)

	return true
}

// AttachInputs records the content addresses of the node's inputs.
func (b *base) AttachInputs(ports map[string]models.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inputs = mergePorts(b.inputs, ports)
}

// AttachOutputs records the content addresses of the node's outputs.
func (b *base) AttachOutputs(ports map[string]models.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outputs = mergePorts(b.outputs, ports)
}

func mergePorts(dst, src map[string]models.Address) map[string]models.Address {
	if len(src) == 0 {
		return dst
	}

	if dst == nil {
		dst = make(map[string]models.Address, len(src))
	}

	maps.Copy(dst, src)

	return dst
}

func (b *base) freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

func (b *base) snapshot(kind Kind) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		Key:         b.key,
		Kind:        kind,
		Subject:     b.subject,
		StartedAt:   copyTime(b.startedAt),
		CompletedAt: copyTime(b.completedAt),
		FailedAt:    copyTime(b.failedAt),
		Frozen:      b.frozen,
	}

	if len(b.properties) > 0 {
		s.Properties = maps.Clone(b.properties)
	}

	if len(b.inputs) > 0 {
		s.Inputs = maps.Clone(b.inputs)
	}

	if len(b.outputs) > 0 {
		s.Outputs = maps.Clone(b.outputs)
	}

	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	copied := *t

	return &copied
}

// WorkflowReport records one workflow, root or nested.
type WorkflowReport struct {
	base

	steps []*StepReport
}

func (w *WorkflowReport) Kind() Kind         { return KindWorkflow }
func (w *WorkflowReport) Snapshot() Snapshot { return w.snapshot(KindWorkflow) }

// Steps returns the step reports in description order.
func (w *WorkflowReport) Steps() []*StepReport {
	return w.steps
}

// StepReport records one step; properties hold its progress counters.
type StepReport struct {
	base

	activities []*ActivityReport
}

func (s *StepReport) Kind() Kind         { return KindStep }
func (s *StepReport) Snapshot() Snapshot { return s.snapshot(KindStep) }

// Freeze stops further property updates.
func (s *StepReport) Freeze() {
	s.freeze()
}

// Activities returns the activity reports bound to this step.
func (s *StepReport) Activities() []*ActivityReport {
	return s.activities
}

// ActivityReport records one activity; Nested is set for sub-workflow activities.
type ActivityReport struct {
	base

	Nested *WorkflowReport
}

func (a *ActivityReport) Kind() Kind { return KindActivity }

func (a *ActivityReport) Snapshot() Snapshot {
	s := a.snapshot(KindActivity)
	if a.Nested != nil {
		s.Nested = a.Nested.Key()
	}

	return s
}
