// Package persistence provides the storage abstraction for the materialized content tree.
package persistence

import (
	"context"

	"github.com/dukex/operion-monitor/pkg/models"
)

// Persistence stores content tree nodes. Implementations are write-once per
// address: Insert must fail with ErrAddressPopulated when a non-missing node
// already exists at the address, and must be safe for concurrent use.
type Persistence interface {
	// Node returns the node at addr, or a missing marker when nothing was written.
	Node(ctx context.Context, addr models.Address) (*models.ContentNode, error)
	Insert(ctx context.Context, node *models.ContentNode) error
	// Addresses lists every populated address at or below prefix in lexical order.
	Addresses(ctx context.Context, prefix models.Address) ([]models.Address, error)
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
