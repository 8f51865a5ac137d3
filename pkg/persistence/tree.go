package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/dukex/operion-monitor/pkg/models"
)

// ContentTree offers typed write-once operations on top of a Persistence backend.
type ContentTree struct {
	backend Persistence
	now     func() time.Time
}

// NewContentTree wraps a backend.
func NewContentTree(backend Persistence) *ContentTree {
	return &ContentTree{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Backend returns the wrapped persistence.
func (t *ContentTree) Backend() Persistence {
	return t.backend
}

// Node returns the node at addr.
func (t *ContentTree) Node(ctx context.Context, addr models.Address) (*models.ContentNode, error) {
	return t.backend.Node(ctx, addr)
}

// Populated reports whether addr holds a non-missing node.
func (t *ContentTree) Populated(ctx context.Context, addr models.Address) (bool, error) {
	node, err := t.backend.Node(ctx, addr)
	if err != nil {
		return false, err
	}

	return !node.IsMissing(), nil
}

// PutLeaf writes raw bytes at addr. location records the external locator the
// bytes were read from, if any.
func (t *ContentTree) PutLeaf(ctx context.Context, addr models.Address, data []byte, charset, location string) error {
	if data == nil {
		data = []byte{}
	}

	return t.backend.Insert(ctx, &models.ContentNode{
		Address:   addr,
		Kind:      models.NodeKindLeaf,
		Data:      data,
		Charset:   charset,
		Location:  location,
		CreatedAt: t.now(),
	})
}

// PutListOf marks addr as a list container holding the given child addresses in order.
func (t *ContentTree) PutListOf(ctx context.Context, addr models.Address, children []models.Address) error {
	return t.backend.Insert(ctx, &models.ContentNode{
		Address:   addr,
		Kind:      models.NodeKindList,
		Children:  children,
		CreatedAt: t.now(),
	})
}

// PutError writes an error record referencing already materialized causes.
func (t *ContentTree) PutError(ctx context.Context, addr models.Address, message, trace string, causes []models.Address) error {
	return t.backend.Insert(ctx, &models.ContentNode{
		Address:   addr,
		Kind:      models.NodeKindError,
		Message:   message,
		Trace:     trace,
		Causes:    causes,
		CreatedAt: t.now(),
	})
}

// Addresses lists populated addresses under prefix.
func (t *ContentTree) Addresses(ctx context.Context, prefix models.Address) ([]models.Address, error) {
	return t.backend.Addresses(ctx, prefix)
}

// Close releases the backend.
func (t *ContentTree) Close(ctx context.Context) error {
	return t.backend.Close(ctx)
}

func splitAddress(addr models.Address) []string {
	return strings.Split(string(addr), "/")
}
