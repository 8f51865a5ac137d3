package refs

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownKind  = errors.New("unknown reference kind")
	ErrNilReference = errors.New("nil reference")
)

type wireReference struct {
	Kind         Kind              `json:"kind"`
	ID           string            `json:"id"`
	Alternatives []Representation  `json:"alternatives,omitempty"`
	Message      string            `json:"message,omitempty"`
	Trace        string            `json:"trace,omitempty"`
	Causes       []json.RawMessage `json:"causes,omitempty"`
	Elements     []json.RawMessage `json:"elements,omitempty"`
}

// Marshal encodes a reference with its kind discriminator.
func Marshal(ref Reference) ([]byte, error) {
	if ref == nil {
		return nil, ErrNilReference
	}

	wire := wireReference{Kind: ref.Kind(), ID: ref.ID()}

	switch r := ref.(type) {
	case *Set:
		wire.Alternatives = r.Alternatives
	case *Error:
		wire.Message = r.Message
		wire.Trace = r.Trace

		causes, err := marshalAll(r.Causes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal causes of %s: %w", r.Identity, err)
		}

		wire.Causes = causes
	case *List:
		elements, err := marshalAll(r.Elements)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal elements of %s: %w", r.Identity, err)
		}

		wire.Elements = elements
	}

	return json.Marshal(wire)
}

func marshalAll(refs []Reference) ([]json.RawMessage, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	out := make([]json.RawMessage, 0, len(refs))

	for _, ref := range refs {
		data, err := Marshal(ref)
		if err != nil {
			return nil, err
		}

		out = append(out, data)
	}

	return out, nil
}

// Unmarshal decodes a reference produced by Marshal.
func Unmarshal(data []byte) (Reference, error) {
	var wire wireReference

	err := json.Unmarshal(data, &wire)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference: %w", err)
	}

	switch wire.Kind {
	case KindSet:
		return &Set{Identity: wire.ID, Alternatives: wire.Alternatives}, nil
	case KindError:
		causes, err := unmarshalAll(wire.Causes)
		if err != nil {
			return nil, err
		}

		return &Error{Identity: wire.ID, Message: wire.Message, Trace: wire.Trace, Causes: causes}, nil
	case KindList:
		elements, err := unmarshalAll(wire.Elements)
		if err != nil {
			return nil, err
		}

		return &List{Identity: wire.ID, Elements: elements}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, wire.Kind)
	}
}

func unmarshalAll(raw []json.RawMessage) ([]Reference, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	out := make([]Reference, 0, len(raw))

	for _, data := range raw {
		ref, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}

		out = append(out, ref)
	}

	return out, nil
}

// Ports maps port names to references and encodes through the kind codec.
type Ports map[string]Reference

func (p Ports) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(p))

	for port, ref := range p {
		data, err := Marshal(ref)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", port, err)
		}

		raw[port] = data
	}

	return json.Marshal(raw)
}

func (p *Ports) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	decoded := make(Ports, len(raw))

	for port, item := range raw {
		ref, err := Unmarshal(item)
		if err != nil {
			return fmt.Errorf("port %s: %w", port, err)
		}

		decoded[port] = ref
	}

	*p = decoded

	return nil
}

// Envelope carries a single reference through encoding/json.
type Envelope struct {
	Reference
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Reference == nil {
		return []byte("null"), nil
	}

	return Marshal(e.Reference)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Reference = nil

		return nil
	}

	ref, err := Unmarshal(data)
	if err != nil {
		return err
	}

	e.Reference = ref

	return nil
}
