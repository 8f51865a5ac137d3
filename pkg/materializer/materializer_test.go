package materializer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dukex/operion-monitor/pkg/log"
	"github.com/dukex/operion-monitor/pkg/mocks"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/persistence/memory"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupMaterializer(t *testing.T, opts ...Option) (*Materializer, *mocks.MockResolver) {
	t.Helper()

	resolver := &mocks.MockResolver{}
	tree := persistence.NewContentTree(memory.NewPersistence())

	return New(tree, resolver, log.Discard(), opts...), resolver
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func node(t *testing.T, m *Materializer, addr models.Address) *models.ContentNode {
	t.Helper()

	n, err := m.Tree().Node(t.Context(), addr)
	require.NoError(t, err)

	return n
}

func TestMaterialize_Idempotent(t *testing.T) {
	m, resolver := setupMaterializer(t)

	fileRep := refs.Representation{Kind: refs.RepresentationFile, Location: "/data/v.txt", Charset: "utf-8"}
	ref := &refs.Set{Identity: "ref-1", Alternatives: []refs.Representation{fileRep}}

	resolver.On("Open", mock.Anything, fileRep).Return(body("value"), nil).Once()

	first, err := m.Materialize(t.Context(), ref, "outputs/x")
	require.NoError(t, err)

	second, err := m.Materialize(t.Context(), ref, "outputs/elsewhere")
	require.NoError(t, err)

	assert.Equal(t, models.Address("outputs/x"), first)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), m.Resolutions())
	resolver.AssertNumberOfCalls(t, "Open", 1)

	leaf := node(t, m, "outputs/x")
	assert.Equal(t, models.NodeKindLeaf, leaf.Kind)
	assert.Equal(t, "value", leaf.Text())
	assert.Equal(t, "utf-8", leaf.Charset)
	assert.Equal(t, "/data/v.txt", leaf.Location)

	assert.True(t, node(t, m, "outputs/elsewhere").IsMissing())
}

func TestMaterialize_ConcurrentCallsShareResolution(t *testing.T) {
	m, resolver := setupMaterializer(t)

	stream := refs.Representation{Kind: refs.RepresentationStream, Location: "s-1"}
	ref := &refs.Set{Identity: "ref-1", Alternatives: []refs.Representation{stream}}

	resolver.On("Open", mock.Anything, stream).Return(body("streamed"), nil).Once()

	var wg sync.WaitGroup

	addrs := make([]models.Address, 8)
	for i := range addrs {
		wg.Add(1)

		go func() {
			defer wg.Done()

			addr, err := m.Materialize(context.Background(), ref, "outputs/s")
			assert.NoError(t, err)

			addrs[i] = addr
		}()
	}

	wg.Wait()

	for _, addr := range addrs {
		assert.Equal(t, models.Address("outputs/s"), addr)
	}

	assert.Equal(t, int64(1), m.Resolutions())
}

func TestMaterialize_PreferenceOrder(t *testing.T) {
	t.Run("inline first", func(t *testing.T) {
		m, resolver := setupMaterializer(t)

		ref := &refs.Set{Identity: "r", Alternatives: []refs.Representation{
			{Kind: refs.RepresentationStream, Location: "s"},
			{Kind: refs.RepresentationURL, Location: "http://example.invalid/v"},
			{Kind: refs.RepresentationInline, Data: []byte("inline")},
		}}

		_, err := m.Materialize(t.Context(), ref, "outputs/x")
		require.NoError(t, err)
		assert.Equal(t, "inline", node(t, m, "outputs/x").Text())
		resolver.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
	})

	t.Run("first locator before stream", func(t *testing.T) {
		m, resolver := setupMaterializer(t)

		urlRep := refs.Representation{Kind: refs.RepresentationURL, Location: "http://example.invalid/v"}
		ref := &refs.Set{Identity: "r", Alternatives: []refs.Representation{
			{Kind: refs.RepresentationStream, Location: "s"},
			urlRep,
			{Kind: refs.RepresentationFile, Location: "/v"},
		}}

		resolver.On("Open", mock.Anything, urlRep).Return(body("by url"), nil).Once()

		_, err := m.Materialize(t.Context(), ref, "outputs/x")
		require.NoError(t, err)

		leaf := node(t, m, "outputs/x")
		assert.Equal(t, "by url", leaf.Text())
		assert.Equal(t, "http://example.invalid/v", leaf.Location)
		resolver.AssertExpectations(t)
	})
}

func TestMaterialize_ListDepth(t *testing.T) {
	m, _ := setupMaterializer(t)

	ref := &refs.List{Identity: "l0", Elements: []refs.Reference{
		&refs.List{Identity: "l1a", Elements: []refs.Reference{
			&refs.List{Identity: "l2", Elements: []refs.Reference{refs.Text("v0", "a"), refs.Text("v1", "b")}},
		}},
		&refs.List{Identity: "l1b", Elements: []refs.Reference{refs.Text("v2", "c")}},
	}}
	require.Equal(t, 3, refs.Depth(ref))

	addr, err := m.Materialize(t.Context(), ref, "outputs/l")
	require.NoError(t, err)

	root := node(t, m, addr)
	assert.Equal(t, models.NodeKindList, root.Kind)
	assert.Equal(t, []models.Address{"outputs/l/0", "outputs/l/1"}, root.Children)

	mid := node(t, m, "outputs/l/0")
	assert.Equal(t, models.NodeKindList, mid.Kind)
	assert.Equal(t, []models.Address{"outputs/l/0/0"}, mid.Children)

	inner := node(t, m, "outputs/l/0/0")
	assert.Equal(t, models.NodeKindList, inner.Kind)
	assert.Equal(t, []models.Address{"outputs/l/0/0/0", "outputs/l/0/0/1"}, inner.Children)

	assert.Equal(t, "a", node(t, m, "outputs/l/0/0/0").Text())
	assert.Equal(t, "b", node(t, m, "outputs/l/0/0/1").Text())
	assert.Equal(t, "c", node(t, m, "outputs/l/1/0").Text())

	levels := 0
	for current := root; current.Kind == models.NodeKindList; current = node(t, m, current.Children[0]) {
		levels++
	}

	assert.Equal(t, 3, levels)
}

func TestMaterialize_EmptyList(t *testing.T) {
	m, _ := setupMaterializer(t)

	_, err := m.Materialize(t.Context(), &refs.List{Identity: "empty"}, "outputs/l")
	require.NoError(t, err)

	list := node(t, m, "outputs/l")
	assert.Equal(t, models.NodeKindList, list.Kind)
	assert.Empty(t, list.Children)
}

func TestMaterialize_ErrorWithCause(t *testing.T) {
	m, _ := setupMaterializer(t)

	ref := &refs.Error{
		Identity: "err-1",
		Message:  "division by zero",
		Trace:    "at divide()",
		Causes:   []refs.Reference{refs.Inline("zero", []byte("0"))},
	}

	addr, err := m.Materialize(t.Context(), ref, "outputs/result")
	require.NoError(t, err)

	record := node(t, m, addr)
	assert.Equal(t, models.NodeKindError, record.Kind)
	assert.Equal(t, "division by zero", record.Message)
	assert.Equal(t, "at divide()", record.Trace)
	require.Len(t, record.Causes, 1)
	assert.Equal(t, models.Address("outputs/result/cause/0"), record.Causes[0])

	cause := node(t, m, record.Causes[0])
	assert.Equal(t, models.NodeKindLeaf, cause.Kind)
	assert.Equal(t, []byte("0"), cause.Data)
}

func TestMaterialize_UnreachableLocator(t *testing.T) {
	m, resolver := setupMaterializer(t)

	fileRep := refs.Representation{Kind: refs.RepresentationFile, Location: "/stale"}
	resolver.On("Open", mock.Anything, fileRep).Return(nil, errors.New("no such file"))

	_, err := m.Materialize(t.Context(), &refs.Set{Identity: "r", Alternatives: []refs.Representation{fileRep}}, "outputs/x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachableLocator)
	assert.True(t, IsResolutionError(err))

	var resolutionErr *ResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	assert.Equal(t, "r", resolutionErr.Identity)

	assert.True(t, node(t, m, "outputs/x").IsMissing())

	// Failures are not cached.
	resolver.ExpectedCalls = nil
	resolver.On("Open", mock.Anything, fileRep).Return(body("now there"), nil).Once()

	_, err = m.Materialize(t.Context(), &refs.Set{Identity: "r", Alternatives: []refs.Representation{fileRep}}, "outputs/x")
	require.NoError(t, err)
	assert.Equal(t, "now there", node(t, m, "outputs/x").Text())
}

func TestMaterialize_UnreachableCausePropagates(t *testing.T) {
	m, resolver := setupMaterializer(t)

	stream := refs.Representation{Kind: refs.RepresentationStream, Location: "gone"}
	resolver.On("Open", mock.Anything, stream).Return(nil, errors.New("stream closed"))

	ref := &refs.List{Identity: "l", Elements: []refs.Reference{
		refs.Text("a", "ok"),
		&refs.Set{Identity: "b", Alternatives: []refs.Representation{stream}},
	}}

	_, err := m.Materialize(t.Context(), ref, "outputs/l")
	require.ErrorIs(t, err, ErrUnreachableLocator)
	assert.True(t, node(t, m, "outputs/l").IsMissing())
}

func TestMaterialize_InvalidSets(t *testing.T) {
	m, _ := setupMaterializer(t)

	_, err := m.Materialize(t.Context(), &refs.Set{Identity: "empty"}, "outputs/x")
	assert.ErrorIs(t, err, ErrEmptyReferenceSet)

	_, err = m.Materialize(t.Context(), &refs.Set{Identity: "odd", Alternatives: []refs.Representation{{Kind: "telepathy"}}}, "outputs/x")
	assert.ErrorIs(t, err, ErrUnsupportedRepresentation)

	_, err = m.Materialize(t.Context(), nil, "outputs/x")
	assert.ErrorIs(t, err, ErrNilReference)

	_, err = m.Materialize(t.Context(), refs.Text("v", "x"), "outputs/../x")
	assert.ErrorIs(t, err, persistence.ErrInvalidAddress)
}

func TestMaterialize_PopulatedTargetIsKept(t *testing.T) {
	m, _ := setupMaterializer(t)

	require.NoError(t, m.Tree().PutLeaf(t.Context(), "outputs/x", []byte("first"), "", ""))

	addr, err := m.Materialize(t.Context(), refs.Text("other", "second"), "outputs/x")
	require.NoError(t, err)
	assert.Equal(t, models.Address("outputs/x"), addr)
	assert.Equal(t, "first", node(t, m, "outputs/x").Text())
	assert.Equal(t, int64(0), m.Resolutions())
}

func TestMaterialize_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	m, _ := setupMaterializer(t, WithTracer(provider.Tracer("test")))

	_, err := m.Materialize(t.Context(), refs.Text("ok", "v"), "outputs/a")
	require.NoError(t, err)

	_, err = m.Materialize(t.Context(), &refs.Set{Identity: "empty"}, "outputs/b")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "materializer.materialize", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestMemoryCache_FirstWins(t *testing.T) {
	cache := NewMemoryCache()

	require.NoError(t, cache.Set(t.Context(), "r", "outputs/a"))
	require.NoError(t, cache.Set(t.Context(), "r", "outputs/b"))

	addr, ok, err := cache.Get(t.Context(), "r")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.Address("outputs/a"), addr)
	assert.Equal(t, 1, cache.Len())

	_, ok, err = cache.Get(t.Context(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}
