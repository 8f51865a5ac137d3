package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEventType indicates a payload whose type is outside the lifecycle set.
var ErrUnknownEventType = errors.New("unknown event type")

// New returns an empty event value for eventType, ready to be decoded into.
func New(eventType EventType) (Event, error) {
	switch eventType {
	case RegisterEvent:
		return &Register{}, nil
	case DeregisterEvent:
		return &Deregister{}, nil
	case AddPropertiesEvent:
		return &AddProperties{}, nil
	case JobDispatchedEvent:
		return &JobDispatched{}, nil
	case JobCompletedEvent:
		return &JobCompleted{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

// Decode parses payload as an event of the given type.
func Decode(eventType EventType, payload []byte) (Event, error) {
	event, err := New(eventType)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}

// DecodeJSON parses a self-describing payload, reading the type from its "type" field.
func DecodeJSON(payload []byte) (Event, error) {
	var header struct {
		Type EventType `json:"type"`
	}

	err := json.Unmarshal(payload, &header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event header: %w", err)
	}

	return Decode(header.Type, payload)
}
