// Package memory provides an in-process content tree backend.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
)

// Persistence keeps content nodes in a map guarded by a read-write mutex.
type Persistence struct {
	mu    sync.RWMutex
	nodes map[models.Address]models.ContentNode
}

// NewPersistence creates an empty in-memory content tree backend.
func NewPersistence() *Persistence {
	return &Persistence{nodes: make(map[models.Address]models.ContentNode)}
}

func (p *Persistence) Node(_ context.Context, addr models.Address) (*models.ContentNode, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	node, ok := p.nodes[addr]
	if !ok {
		return models.Missing(addr), nil
	}

	return clone(&node), nil
}

func (p *Persistence) Insert(_ context.Context, node *models.ContentNode) error {
	err := persistence.ValidateNode(node)
	if err != nil {
		return persistence.NewNodeError("Insert", addressOf(node), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.nodes[node.Address]; exists {
		return persistence.NewNodeError("Insert", node.Address, persistence.ErrAddressPopulated)
	}

	p.nodes[node.Address] = *clone(node)

	return nil
}

func (p *Persistence) Addresses(_ context.Context, prefix models.Address) ([]models.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	addresses := make([]models.Address, 0)

	for addr := range p.nodes {
		if addr.HasPrefix(prefix) {
			addresses = append(addresses, addr)
		}
	}

	slices.Sort(addresses)

	return addresses, nil
}

// HealthCheck always succeeds for the in-memory backend.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close performs any necessary cleanup. For memory persistence, there is nothing to clean up.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func clone(node *models.ContentNode) *models.ContentNode {
	copied := *node
	copied.Data = slices.Clone(node.Data)
	copied.Children = slices.Clone(node.Children)
	copied.Causes = slices.Clone(node.Causes)

	return &copied
}

func addressOf(node *models.ContentNode) models.Address {
	if node == nil {
		return ""
	}

	return node.Address
}
