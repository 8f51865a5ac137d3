// Package events defines the lifecycle events an engine emits while a run progresses.
//
// The set is closed: Register, Deregister, AddProperties, JobDispatched and
// JobCompleted. Consumers dispatch with a type switch.
package events

import (
	"time"

	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/google/uuid"
)

type EventType string

// TopicPrefix is prepended to the run ID to form a run's topic.
const TopicPrefix = "operion.monitor."

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RegisterEvent      EventType = "node.register"
	DeregisterEvent    EventType = "node.deregister"
	AddPropertiesEvent EventType = "node.add_properties"
	JobDispatchedEvent EventType = "job.dispatched"
	JobCompletedEvent  EventType = "job.completed"
)

// Topic returns the topic a run's events are published on.
func Topic(runID string) string {
	return TopicPrefix + runID
}

// Event is implemented by the five lifecycle events of this package only.
type Event interface {
	GetType() EventType
	ProcessAddress() []string

	lifecycleEvent()
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	// Address is the raw process address emitted by the engine.
	Address []string `json:"address"`
}

func (b BaseEvent) ProcessAddress() []string {
	return b.Address
}

func (BaseEvent) lifecycleEvent() {}

// Register announces a workflow, step or activity instance.
type Register struct {
	BaseEvent

	// Subject is the stable model element ID. For activities it is the
	// stable token the volatile runtime ID maps to.
	Subject    string         `json:"subject"`
	Properties map[string]any `json:"properties,omitempty"`
}

func (r Register) GetType() EventType {
	return RegisterEvent
}

// Deregister announces the end of a workflow, step or activity instance.
type Deregister struct {
	BaseEvent
}

func (d Deregister) GetType() EventType {
	return DeregisterEvent
}

// AddProperties carries a property snapshot, typically step progress counters.
type AddProperties struct {
	BaseEvent

	Properties map[string]any `json:"properties"`
}

func (a AddProperties) GetType() EventType {
	return AddPropertiesEvent
}

// JobDispatched announces one concrete job attempt of an activity.
type JobDispatched struct {
	BaseEvent

	Index  []int      `json:"index"`
	Inputs refs.Ports `json:"inputs,omitempty"`
}

func (j JobDispatched) GetType() EventType {
	return JobDispatchedEvent
}

// JobCompleted carries the outputs of a previously dispatched job.
type JobCompleted struct {
	BaseEvent

	Index   []int      `json:"index"`
	Outputs refs.Ports `json:"outputs,omitempty"`
}

func (j JobCompleted) GetType() EventType {
	return JobCompletedEvent
}

func NewBaseEvent(eventType EventType, runID string, address []string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Address:   address,
	}
}
