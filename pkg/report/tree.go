package report

import (
	"maps"
	"slices"
)

// Tree maps structural keys to report nodes. The map is fixed once built;
// only the nodes themselves change while a run progresses.
type Tree struct {
	root    *WorkflowReport
	nodes   map[string]Node
	subject map[string][]string
}

func newTree() *Tree {
	return &Tree{
		nodes:   make(map[string]Node),
		subject: make(map[string][]string),
	}
}

func (t *Tree) insert(node Node) bool {
	if _, exists := t.nodes[node.Key()]; exists {
		return false
	}

	t.nodes[node.Key()] = node
	t.subject[node.Subject()] = append(t.subject[node.Subject()], node.Key())

	return true
}

// Root returns the root workflow report.
func (t *Tree) Root() *WorkflowReport {
	return t.root
}

// Get returns the node at key.
func (t *Tree) Get(key string) (Node, bool) {
	node, ok := t.nodes[key]

	return node, ok
}

// Workflow returns the workflow report at key.
func (t *Tree) Workflow(key string) (*WorkflowReport, bool) {
	node, ok := t.nodes[key].(*WorkflowReport)

	return node, ok
}

// Step returns the step report at key.
func (t *Tree) Step(key string) (*StepReport, bool) {
	node, ok := t.nodes[key].(*StepReport)

	return node, ok
}

// Activity returns the activity report at key.
func (t *Tree) Activity(key string) (*ActivityReport, bool) {
	node, ok := t.nodes[key].(*ActivityReport)

	return node, ok
}

// Keys returns every structural key in sorted order.
func (t *Tree) Keys() []string {
	return slices.Sorted(maps.Keys(t.nodes))
}

// KeysFor returns the keys of every node describing the given model element.
func (t *Tree) KeysFor(subject string) []string {
	return slices.Clone(t.subject[subject])
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Snapshot copies every node's state.
func (t *Tree) Snapshot() map[string]Snapshot {
	out := make(map[string]Snapshot, len(t.nodes))
	for key, node := range t.nodes {
		out[key] = node.Snapshot()
	}

	return out
}
