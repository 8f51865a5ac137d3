// Package refs defines the value references an engine hands out for port data.
//
// A reference is one of three disjoint variants: a Set of alternative
// representations of one value, an Error carrying causes, or an ordered List
// of further references. The variants are closed; consumers switch on the
// concrete type.
package refs

import "fmt"

// Kind discriminates the reference variants on the wire.
type Kind string

const (
	KindSet   Kind = "set"
	KindError Kind = "error"
	KindList  Kind = "list"
)

// Reference is an opaque handle into the engine's value space.
type Reference interface {
	// ID is the reference identity. Two references with the same ID denote
	// the same value.
	ID() string
	Kind() Kind

	sealed()
}

// RepresentationKind names how a Set alternative can be read.
type RepresentationKind string

const (
	RepresentationInline RepresentationKind = "inline"
	RepresentationFile   RepresentationKind = "file"
	RepresentationURL    RepresentationKind = "url"
	RepresentationStream RepresentationKind = "stream"
)

// IsLocator reports whether the representation points at an external location.
func (k RepresentationKind) IsLocator() bool {
	return k == RepresentationFile || k == RepresentationURL
}

// Representation is one way of reading the value a Set denotes.
type Representation struct {
	Kind     RepresentationKind `json:"kind"`
	Data     []byte             `json:"data,omitempty"`
	Location string             `json:"location,omitempty"`
	Charset  string             `json:"charset,omitempty"`
}

func (r Representation) String() string {
	switch r.Kind {
	case RepresentationInline:
		return fmt.Sprintf("inline(%d bytes)", len(r.Data))
	default:
		return fmt.Sprintf("%s(%s)", r.Kind, r.Location)
	}
}

// Set holds alternative representations of the same scalar or blob value.
type Set struct {
	Identity     string
	Alternatives []Representation
}

func (s *Set) ID() string { return s.Identity }
func (s *Set) Kind() Kind { return KindSet }
func (s *Set) sealed()    {}

// Error is a failed value: a message, a rendered trace and its causes.
type Error struct {
	Identity string
	Message  string
	Trace    string
	Causes   []Reference
}

func (e *Error) ID() string { return e.Identity }
func (e *Error) Kind() Kind { return KindError }
func (e *Error) sealed()    {}

// List is an ordered collection of references, possibly nested.
type List struct {
	Identity string
	Elements []Reference
}

func (l *List) ID() string { return l.Identity }
func (l *List) Kind() Kind { return KindList }
func (l *List) sealed()    {}

// Inline builds a single-alternative set holding literal bytes.
func Inline(id string, data []byte) *Set {
	return &Set{
		Identity:     id,
		Alternatives: []Representation{{Kind: RepresentationInline, Data: data}},
	}
}

// Text is Inline for UTF-8 strings.
func Text(id, value string) *Set {
	set := Inline(id, []byte(value))
	set.Alternatives[0].Charset = "utf-8"

	return set
}

// Depth returns the list nesting depth of ref; sets and errors have depth 0.
func Depth(ref Reference) int {
	list, ok := ref.(*List)
	if !ok {
		return 0
	}

	deepest := 0
	for _, element := range list.Elements {
		if d := Depth(element); d > deepest {
			deepest = d
		}
	}

	return deepest + 1
}
