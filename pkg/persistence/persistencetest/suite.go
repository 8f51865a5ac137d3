// Package persistencetest provides a conformance suite every content tree backend must pass.
package persistencetest

import (
	"context"
	"sync"
	"testing"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run exercises the write-once content tree contract against a backend.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("missing marker", func(t *testing.T) {
		tree := persistence.NewContentTree(factory(t))

		node, err := tree.Node(t.Context(), "outputs/none")
		require.NoError(t, err)
		assert.True(t, node.IsMissing())
		assert.Equal(t, models.Address("outputs/none"), node.Address)
	})

	t.Run("leaf round trip", func(t *testing.T) {
		tree := persistence.NewContentTree(factory(t))
		ctx := t.Context()

		require.NoError(t, tree.PutLeaf(ctx, "outputs/x", []byte("hello"), "utf-8", ""))

		node, err := tree.Node(ctx, "outputs/x")
		require.NoError(t, err)
		assert.Equal(t, models.NodeKindLeaf, node.Kind)
		assert.Equal(t, "hello", node.Text())
		assert.Equal(t, "utf-8", node.Charset)
		assert.False(t, node.CreatedAt.IsZero())
	})

	t.Run("empty leaf is not missing", func(t *testing.T) {
		tree := persistence.NewContentTree(factory(t))
		ctx := t.Context()

		require.NoError(t, tree.PutLeaf(ctx, "outputs/empty", nil, "", ""))

		populated, err := tree.Populated(ctx, "outputs/empty")
		require.NoError(t, err)
		assert.True(t, populated)

		node, err := tree.Node(ctx, "outputs/empty")
		require.NoError(t, err)
		assert.Empty(t, node.Data)
	})

	t.Run("write once", func(t *testing.T) {
		tree := persistence.NewContentTree(factory(t))
		ctx := t.Context()

		require.NoError(t, tree.PutLeaf(ctx, "outputs/x", []byte("first"), "", ""))

		err := tree.PutLeaf(ctx, "outputs/x", []byte("second"), "", "")
		require.Error(t, err)
		assert.True(t, persistence.IsAddressPopulated(err))

		node, err := tree.Node(ctx, "outputs/x")
		require.NoError(t, err)
		assert.Equal(t, "first", node.Text())
	})

	t.Run("list and error records", func(t *testing.T) {
		tree := persistence.NewContentTree(factory(t))
		ctx := t.Context()

		children := []models.Address{"outputs/l/0", "outputs/l/1"}
		require.NoError(t, tree.PutListOf(ctx, "outputs/l", children))

		require.NoError(t, tree.PutError(ctx, "outputs/l/0", "boom", "trace", []models.Address{"outputs/l/1"}))

		list, err := tree.Node(ctx, "outputs/l")
		require.NoError(t, err)
		assert.Equal(t, models.NodeKindList, list.Kind)
		assert.Equal(t, children, list.Children)

		record, err := tree.Node(ctx, "outputs/l/0")
		require.NoError(t, err)
		assert.Equal(t, models.NodeKindError, record.Kind)
		assert.Equal(t, "boom", record.Message)
		assert.Equal(t, "trace", record.Trace)
		assert.Equal(t, []models.Address{"outputs/l/1"}, record.Causes)
	})

	t.Run("addresses by prefix", func(t *testing.T) {
		tree := persistence.NewContentTree(factory(t))
		ctx := t.Context()

		for _, addr := range []models.Address{"outputs/b", "outputs/a", "inputs/a", "outputs/ab"} {
			require.NoError(t, tree.PutLeaf(ctx, addr, []byte("v"), "", ""))
		}

		addresses, err := tree.Addresses(ctx, "outputs")
		require.NoError(t, err)
		assert.Equal(t, []models.Address{"outputs/a", "outputs/ab", "outputs/b"}, addresses)

		addresses, err = tree.Addresses(ctx, "outputs/a")
		require.NoError(t, err)
		assert.Equal(t, []models.Address{"outputs/a"}, addresses)
	})

	t.Run("rejects invalid nodes", func(t *testing.T) {
		backend := factory(t)
		ctx := t.Context()

		assert.ErrorIs(t, backend.Insert(ctx, nil), persistence.ErrInvalidNode)
		assert.ErrorIs(t, backend.Insert(ctx, models.Missing("a")), persistence.ErrInvalidNode)
		assert.ErrorIs(t, backend.Insert(ctx, &models.ContentNode{Address: "a/../b", Kind: models.NodeKindLeaf}), persistence.ErrInvalidAddress)
	})

	t.Run("concurrent writers to one address", func(t *testing.T) {
		backend := factory(t)
		tree := persistence.NewContentTree(backend)
		ctx := context.Background()

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)

		for range 8 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				if tree.PutLeaf(ctx, "outputs/race", []byte("v"), "", "") == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, 1, successes)
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, factory(t).HealthCheck(t.Context()))
	})
}
