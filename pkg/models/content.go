package models

import (
	"strconv"
	"strings"
	"time"
)

// Address locates a node of the materialized content tree. Segments are
// joined with "/".
type Address string

const (
	InputsArea      Address = "inputs"
	OutputsArea     Address = "outputs"
	InvocationsArea Address = "invocations"
)

// Child returns the address of a named child.
func (a Address) Child(segment string) Address {
	if a == "" {
		return Address(segment)
	}

	return Address(string(a) + "/" + segment)
}

// Index returns the address of the i-th list element.
func (a Address) Index(i int) Address {
	return a.Child(strconv.Itoa(i))
}

// Parent returns the enclosing address, or "" for a top-level address.
func (a Address) Parent() Address {
	i := strings.LastIndex(string(a), "/")
	if i < 0 {
		return ""
	}

	return a[:i]
}

// HasPrefix reports whether a equals prefix or lies below it.
func (a Address) HasPrefix(prefix Address) bool {
	if prefix == "" || a == prefix {
		return true
	}

	return strings.HasPrefix(string(a), string(prefix)+"/")
}

func (a Address) String() string {
	return string(a)
}

// NodeKind discriminates content tree nodes.
type NodeKind string

const (
	NodeKindMissing NodeKind = "missing"
	NodeKindLeaf    NodeKind = "leaf"
	NodeKindList    NodeKind = "list"
	NodeKindError   NodeKind = "error"
)

// ContentNode is the record held at one content tree address. A node of kind
// missing is returned for addresses that were never written; an empty leaf is
// a leaf with no data.
type ContentNode struct {
	Address   Address   `json:"address"`
	Kind      NodeKind  `json:"kind"`
	Data      []byte    `json:"data,omitempty"`
	Charset   string    `json:"charset,omitempty"`
	Location  string    `json:"location,omitempty"`
	Children  []Address `json:"children,omitempty"`
	Message   string    `json:"message,omitempty"`
	Trace     string    `json:"trace,omitempty"`
	Causes    []Address `json:"causes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Missing builds the marker node for an unpopulated address.
func Missing(addr Address) *ContentNode {
	return &ContentNode{Address: addr, Kind: NodeKindMissing}
}

// IsMissing reports whether the node marks an unpopulated address.
func (n *ContentNode) IsMissing() bool {
	return n == nil || n.Kind == NodeKindMissing
}

// Text returns leaf data as a string.
func (n *ContentNode) Text() string {
	return string(n.Data)
}
