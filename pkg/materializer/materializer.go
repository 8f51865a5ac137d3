// Package materializer resolves engine value references into the content tree.
//
// Materialization is idempotent per reference identity: the first call writes
// the value and caches its address, later calls return the cached address.
// Concurrent calls for one identity share a single resolution.
package materializer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/dukex/operion-monitor/pkg/engine"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/otelhelper"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/refs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// CauseSegment names the child area holding an error's materialized causes.
const CauseSegment = "cause"

// Materializer writes references into one content tree and remembers where
// each identity landed. It is safe for concurrent use.
type Materializer struct {
	tree     *persistence.ContentTree
	resolver engine.Resolver
	cache    Cache
	tracer   trace.Tracer
	logger   *slog.Logger

	group       singleflight.Group
	resolutions atomic.Int64
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithCache replaces the default in-memory identity cache.
func WithCache(cache Cache) Option {
	return func(m *Materializer) {
		m.cache = cache
	}
}

// WithTracer records a span per materialization.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Materializer) {
		m.tracer = tracer
	}
}

// New creates a materializer over tree. Set alternatives with a locator are
// read through resolver.
func New(tree *persistence.ContentTree, resolver engine.Resolver, logger *slog.Logger, opts ...Option) *Materializer {
	m := &Materializer{
		tree:     tree,
		resolver: resolver,
		cache:    NewMemoryCache(),
		tracer:   otelhelper.NoopTracer(),
		logger:   logger.With("module", "materializer"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Tree returns the content tree values are written to.
func (m *Materializer) Tree() *persistence.ContentTree {
	return m.tree
}

// Resolutions counts set representations actually read.
func (m *Materializer) Resolutions() int64 {
	return m.resolutions.Load()
}

// Materialize writes ref at target and returns the address it lives at. For
// an identity materialized before, the earlier address is returned and
// nothing is resolved again.
func (m *Materializer) Materialize(ctx context.Context, ref refs.Reference, target models.Address) (models.Address, error) {
	if ref == nil {
		return "", ErrNilReference
	}

	err := persistence.ValidateAddress(target)
	if err != nil {
		return "", newResolutionError("materialize", ref.ID(), err)
	}

	ctx, span := otelhelper.StartSpan(ctx, m.tracer, "materializer.materialize",
		attribute.String(otelhelper.ReferenceIDKey, ref.ID()),
		attribute.String(otelhelper.ReferenceKindKey, string(ref.Kind())),
		attribute.String(otelhelper.ContentAddressKey, string(target)),
	)
	defer span.End()

	addr, err := m.materialize(ctx, ref, target)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	return addr, nil
}

func (m *Materializer) materialize(ctx context.Context, ref refs.Reference, target models.Address) (models.Address, error) {
	identity := ref.ID()

	addr, ok, err := m.cache.Get(ctx, identity)
	if err != nil {
		m.logger.WarnContext(ctx, "Identity cache lookup failed", "identity", identity, "error", err)
	}

	if ok {
		return addr, nil
	}

	result, err, _ := m.group.Do(identity, func() (any, error) {
		// A concurrent caller may have finished between the lookup and Do.
		if addr, ok, _ := m.cache.Get(ctx, identity); ok {
			return addr, nil
		}

		addr, err := m.write(ctx, ref, target)
		if err != nil {
			return nil, err
		}

		err = m.cache.Set(ctx, identity, addr)
		if err != nil {
			m.logger.WarnContext(ctx, "Identity cache update failed", "identity", identity, "error", err)
		}

		return addr, nil
	})
	if err != nil {
		return "", err
	}

	return result.(models.Address), nil
}

func (m *Materializer) write(ctx context.Context, ref refs.Reference, target models.Address) (models.Address, error) {
	populated, err := m.tree.Populated(ctx, target)
	if err != nil {
		return "", newResolutionError("lookup", ref.ID(), err)
	}

	if populated {
		return target, nil
	}

	switch r := ref.(type) {
	case *refs.Set:
		err = m.writeSet(ctx, r, target)
	case *refs.Error:
		err = m.writeError(ctx, r, target)
	case *refs.List:
		err = m.writeList(ctx, r, target)
	default:
		err = newResolutionError("materialize", ref.ID(), fmt.Errorf("unknown reference kind %q", ref.Kind()))
	}

	if err != nil {
		return "", err
	}

	return target, nil
}

func (m *Materializer) writeSet(ctx context.Context, set *refs.Set, target models.Address) error {
	representation, err := choose(set)
	if err != nil {
		return newResolutionError("resolve", set.Identity, err)
	}

	data, err := m.read(ctx, representation)
	if err != nil {
		return newResolutionError("resolve", set.Identity, err)
	}

	location := ""
	if representation.Kind.IsLocator() {
		location = representation.Location
	}

	return m.insert(set.Identity, m.tree.PutLeaf(ctx, target, data, representation.Charset, location))
}

// choose picks inline first, then the first file or url locator, then a stream.
func choose(set *refs.Set) (refs.Representation, error) {
	if len(set.Alternatives) == 0 {
		return refs.Representation{}, ErrEmptyReferenceSet
	}

	for _, alternative := range set.Alternatives {
		if alternative.Kind == refs.RepresentationInline {
			return alternative, nil
		}
	}

	for _, alternative := range set.Alternatives {
		if alternative.Kind.IsLocator() {
			return alternative, nil
		}
	}

	for _, alternative := range set.Alternatives {
		if alternative.Kind == refs.RepresentationStream {
			return alternative, nil
		}
	}

	return refs.Representation{}, fmt.Errorf("%w: %v", ErrUnsupportedRepresentation, set.Alternatives)
}

func (m *Materializer) read(ctx context.Context, representation refs.Representation) ([]byte, error) {
	m.resolutions.Add(1)

	if representation.Kind == refs.RepresentationInline {
		return representation.Data, nil
	}

	rc, err := m.resolver.Open(ctx, representation)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachableLocator, representation, err)
	}

	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachableLocator, representation, err)
	}

	return data, nil
}

func (m *Materializer) writeError(ctx context.Context, errRef *refs.Error, target models.Address) error {
	causes := make([]models.Address, 0, len(errRef.Causes))
	causeArea := target.Child(CauseSegment)

	for i, cause := range errRef.Causes {
		addr, err := m.materializeChild(ctx, cause, causeArea.Index(i))
		if err != nil {
			return err
		}

		causes = append(causes, addr)
	}

	return m.insert(errRef.Identity, m.tree.PutError(ctx, target, errRef.Message, errRef.Trace, causes))
}

func (m *Materializer) writeList(ctx context.Context, list *refs.List, target models.Address) error {
	children := make([]models.Address, 0, len(list.Elements))

	for i, element := range list.Elements {
		addr, err := m.materializeChild(ctx, element, target.Index(i))
		if err != nil {
			return err
		}

		children = append(children, addr)
	}

	return m.insert(list.Identity, m.tree.PutListOf(ctx, target, children))
}

func (m *Materializer) materializeChild(ctx context.Context, ref refs.Reference, target models.Address) (models.Address, error) {
	if ref == nil {
		return "", newResolutionError("materialize", string(target), ErrNilReference)
	}

	return m.materialize(ctx, ref, target)
}

// insert folds a lost write-once race into success: the address holds the value either way.
func (m *Materializer) insert(identity string, err error) error {
	if err == nil || errors.Is(err, persistence.ErrAddressPopulated) {
		return nil
	}

	return newResolutionError("write", identity, err)
}
