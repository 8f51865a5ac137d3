package tracker

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
)

// indexedOutputs collects the elements of port values a workflow emits one
// index at a time, so list records can be written over them once the
// workflow ends.
type indexedOutputs struct {
	mu      sync.Mutex
	ports   map[string]models.Address
	parents map[models.Address]map[int]models.Address
}

func newIndexedOutputs() *indexedOutputs {
	return &indexedOutputs{
		ports:   make(map[string]models.Address),
		parents: make(map[models.Address]map[int]models.Address),
	}
}

// record notes that the element of port at base/index landed at addr. Every
// intermediate level of a multi-dimensional index becomes a list too.
func (o *indexedOutputs) record(port string, base models.Address, index []int, addr models.Address) {
	if len(index) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.ports[port] = base

	parent := base

	for depth, i := range index {
		child := parent.Index(i)
		if depth == len(index)-1 {
			child = addr
		}

		children, ok := o.parents[parent]
		if !ok {
			children = make(map[int]models.Address)
			o.parents[parent] = children
		}

		if _, exists := children[i]; !exists {
			children[i] = child
		}

		parent = parent.Index(i)
	}
}

// seal writes a list record at every collected parent, innermost first, and
// returns the port lists it covered. Children are ordered by index. A parent
// already holding a value is left alone.
func (o *indexedOutputs) seal(ctx context.Context, tree *persistence.ContentTree) (map[string]models.Address, error) {
	o.mu.Lock()
	ports := o.ports
	parents := o.parents
	o.ports = make(map[string]models.Address)
	o.parents = make(map[models.Address]map[int]models.Address)
	o.mu.Unlock()

	addresses := slices.Collect(maps.Keys(parents))
	slices.SortFunc(addresses, func(a, b models.Address) int {
		return cmp.Or(
			cmp.Compare(strings.Count(string(b), "/"), strings.Count(string(a), "/")),
			cmp.Compare(a, b),
		)
	})

	var errs []error

	for _, parent := range addresses {
		children := parents[parent]

		ordered := make([]models.Address, 0, len(children))
		for _, i := range slices.Sorted(maps.Keys(children)) {
			ordered = append(ordered, children[i])
		}

		err := tree.PutListOf(ctx, parent, ordered)
		if err != nil && !errors.Is(err, persistence.ErrAddressPopulated) {
			errs = append(errs, err)
		}
	}

	return ports, errors.Join(errs...)
}
