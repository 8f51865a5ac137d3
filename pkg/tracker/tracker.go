// Package tracker maintains the live invocation table of a monitored run.
//
// Lifecycle events create invocations, attach materialized ports to them and
// finalize them. A finalized invocation leaves the table after its timing and
// ports are written to the owning report node. Materialization never runs
// while the table lock is held.
package tracker

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/operion-monitor/pkg/address"
	"github.com/dukex/operion-monitor/pkg/events"
	"github.com/dukex/operion-monitor/pkg/materializer"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/otelhelper"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/dukex/operion-monitor/pkg/report"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	inputsSegment  = "inputs"
	outputsSegment = "outputs"
)

// Tracker applies lifecycle events and final results of one run to its
// report tree. It is safe for concurrent use.
type Tracker struct {
	tree         *report.Tree
	resolver     *address.Resolver
	materializer *materializer.Materializer
	tracer       trace.Tracer
	logger       *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	live       map[string]*invocation
	rootInputs map[string]models.Address
	rootLists  *indexedOutputs
	closed     bool

	anomalies atomic.Int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTracer records a span per handled event.
func WithTracer(tracer trace.Tracer) Option {
	return func(t *Tracker) {
		t.tracer = tracer
	}
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates a tracker writing reports to tree and values through mat.
func New(tree *report.Tree, resolver *address.Resolver, mat *materializer.Materializer, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		tree:         tree,
		resolver:     resolver,
		materializer: mat,
		tracer:       otelhelper.NoopTracer(),
		logger:       logger.With("module", "tracker"),
		now:          func() time.Time { return time.Now().UTC() },
		live:         make(map[string]*invocation),
		rootInputs:   make(map[string]models.Address),
		rootLists:    newIndexedOutputs(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// SetInputs records the externally supplied, already materialized root inputs.
// A root workflow registered afterwards receives them.
func (t *Tracker) SetInputs(inputs map[string]models.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rootInputs = maps.Clone(inputs)
	if t.rootInputs == nil {
		t.rootInputs = make(map[string]models.Address)
	}
}

// Handle applies one lifecycle event. Bookkeeping anomalies are logged and
// dropped; the returned error is always a resolution error whose owning
// report node has already been marked failed.
func (t *Tracker) Handle(ctx context.Context, event events.Event) error {
	if t.isClosed() {
		t.logger.DebugContext(ctx, "Dropping event after abandon", "event_type", event.GetType())

		return nil
	}

	ctx, span := otelhelper.StartSpan(ctx, t.tracer, "tracker.handle",
		attribute.String(otelhelper.EventTypeKey, string(event.GetType())),
		attribute.StringSlice(otelhelper.ProcessAddressKey, event.ProcessAddress()),
	)
	defer span.End()

	var err error

	switch e := event.(type) {
	case *events.Register:
		t.register(ctx, e)
	case *events.Deregister:
		t.deregister(ctx, e)
	case *events.AddProperties:
		t.addProperties(ctx, e)
	case *events.JobDispatched:
		err = t.jobDispatched(ctx, e)
	case *events.JobCompleted:
		err = t.jobCompleted(ctx, e)
	default:
		t.anomaly(ctx, "Unhandled event", event.ProcessAddress(), "event_type", event.GetType())
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

// Result handles a final-result callback for the workflow at addr. Results
// for the root workflow land in the outputs area even when no root
// invocation is live.
func (t *Tracker) Result(ctx context.Context, addr []string, port string, index []int, ref refs.Reference) error {
	if t.isClosed() {
		t.logger.DebugContext(ctx, "Dropping result after abandon", "port", port)

		return nil
	}

	if ref == nil {
		t.anomaly(ctx, "Result without value", addr, "port", port)

		return nil
	}

	res := t.resolver.Resolve(addr)

	t.mu.Lock()

	var listener outputListener
	if inv, ok := t.live[res.InvocationKey]; ok && inv.listener != nil {
		listener = inv.listener
	} else if len(res.Segments) <= 1 {
		listener = t.rootListener(nil)
	}

	t.mu.Unlock()

	if listener == nil {
		t.anomaly(ctx, "Result for unknown workflow invocation", addr, "port", port)

		return nil
	}

	err := listener(ctx, port, index, ref)
	if err != nil {
		node, ok := t.tree.Get(res.ReportKey)
		if !ok {
			node = t.tree.Root()
		}

		t.fail(ctx, node, err)

		return err
	}

	return nil
}

// Abandon drops every live invocation without completing their reports and
// ignores all later events and results.
func (t *Tracker) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := len(t.live)
	t.closed = true
	clear(t.live)

	t.logger.Info("Abandoned live invocations", "count", dropped)
}

// Invocations returns a copy of the live table ordered by key.
func (t *Tracker) Invocations() []Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Invocation, 0, len(t.live))
	for _, inv := range t.live {
		out = append(out, inv.snapshot())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// Invocation returns a copy of the live invocation at key.
func (t *Tracker) Invocation(key string) (Invocation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inv, ok := t.live[key]
	if !ok {
		return Invocation{}, false
	}

	return inv.snapshot(), true
}

// Anomalies counts events dropped as bookkeeping anomalies.
func (t *Tracker) Anomalies() int64 {
	return t.anomalies.Load()
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

func (t *Tracker) anomaly(ctx context.Context, msg string, addr []string, args ...any) {
	t.anomalies.Add(1)
	t.logger.WarnContext(ctx, msg, append([]any{"process_address", strings.Join(addr, address.Separator)}, args...)...)
}

func (t *Tracker) fail(ctx context.Context, node report.Node, err error) {
	node.MarkFailed(t.now())
	t.logger.ErrorContext(ctx, "Materialization failed", "report_key", node.Key(), "error", err)
}

func (t *Tracker) register(ctx context.Context, e *events.Register) {
	res := t.resolver.Resolve(e.Address)
	if res.Level == address.LevelNone {
		t.anomaly(ctx, "Register without process address", e.Address)

		return
	}

	if res.Level == address.LevelActivity && e.Subject != "" {
		t.resolver.RecordActivity(res.Segments[len(res.Segments)-1], e.Subject)
		res = t.resolver.Resolve(e.Address)
	}

	node, ok := t.tree.Get(res.ReportKey)
	if !ok {
		t.anomaly(ctx, "Register for unknown report node", e.Address, "report_key", res.ReportKey)

		return
	}

	now := t.now()

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return
	}

	if _, exists := t.live[res.InvocationKey]; exists {
		t.mu.Unlock()
		t.anomaly(ctx, "Duplicate register", e.Address, "invocation_key", res.InvocationKey)

		return
	}

	inv := &invocation{
		key:       res.InvocationKey,
		name:      res.DisplayName,
		kind:      kindOf(res.Level),
		reportKey: res.ReportKey,
		report:    node,
		parent:    t.ancestor(res.InvocationKey),
		inputs:    make(map[string]models.Address),
		outputs:   make(map[string]models.Address),
		startedAt: now,
	}

	if inv.kind == KindWorkflow {
		t.wireWorkflow(inv)
	}

	t.live[inv.key] = inv
	inputs := maps.Clone(inv.inputs)

	t.mu.Unlock()

	node.MarkStarted(now)
	node.MergeProperties(e.Properties)
	node.AttachInputs(inputs)

	t.logger.DebugContext(ctx, "Registered invocation", "invocation_key", inv.key, "kind", inv.kind)
}

// wireWorkflow attaches inputs and the output listener. Callers hold t.mu.
func (t *Tracker) wireWorkflow(inv *invocation) {
	if inv.parent == nil {
		maps.Copy(inv.inputs, t.rootInputs)
		inv.listener = t.rootListener(inv)

		return
	}

	maps.Copy(inv.inputs, t.inherited(inv.parent))
	inv.lists = newIndexedOutputs()
	inv.listener = t.nestedListener(inv)
}

// inherited returns the inputs of the nearest ancestor that has any.
func (t *Tracker) inherited(inv *invocation) map[string]models.Address {
	for ; inv != nil; inv = inv.parent {
		if len(inv.inputs) > 0 {
			return inv.inputs
		}
	}

	return nil
}

// rootListener writes root outputs to outputs/<port>[/<index>...]. inv may be nil
// when the result arrives without a live root invocation.
func (t *Tracker) rootListener(inv *invocation) outputListener {
	return func(ctx context.Context, port string, index []int, ref refs.Reference) error {
		base := models.OutputsArea.Child(port)

		addr, err := t.materializer.Materialize(ctx, ref, indexedAddress(base, index))
		if err != nil {
			return err
		}

		key := portKey(port, index)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()

			return nil
		}

		if inv != nil {
			inv.outputs[key] = addr
		}
		t.mu.Unlock()

		t.rootLists.record(port, base, index, addr)

		t.tree.Root().AttachOutputs(map[string]models.Address{key: addr})

		return nil
	}
}

// nestedListener copies each output of a sub-workflow into the invocation's
// inputs, where the parent activity's bookkeeping continues from.
func (t *Tracker) nestedListener(inv *invocation) outputListener {
	return func(ctx context.Context, port string, index []int, ref refs.Reference) error {
		base := models.InvocationsArea.Child(inv.key).Child(outputsSegment).Child(port)

		addr, err := t.materializer.Materialize(ctx, ref, indexedAddress(base, index))
		if err != nil {
			return err
		}

		key := portKey(port, index)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()

			return nil
		}

		inv.inputs[key] = addr
		inv.outputs[key] = addr
		t.mu.Unlock()

		inv.lists.record(port, base, index, addr)

		inv.report.AttachOutputs(map[string]models.Address{key: addr})

		return nil
	}
}

// ancestor returns the nearest live invocation above key. Callers hold t.mu.
func (t *Tracker) ancestor(key string) *invocation {
	for parent := address.Parent(key); parent != ""; parent = address.Parent(parent) {
		if inv, ok := t.live[parent]; ok {
			return inv
		}
	}

	return nil
}

func (t *Tracker) addProperties(ctx context.Context, e *events.AddProperties) {
	res := t.resolver.Resolve(e.Address)

	node, ok := t.tree.Get(res.ReportKey)
	if !ok {
		t.anomaly(ctx, "Properties for unknown report node", e.Address, "report_key", res.ReportKey)

		return
	}

	if !node.MergeProperties(e.Properties) {
		t.logger.DebugContext(ctx, "Properties ignored", "report_key", res.ReportKey)
	}
}

func (t *Tracker) jobDispatched(ctx context.Context, e *events.JobDispatched) error {
	res := t.resolver.Resolve(e.Address)
	if res.Level == address.LevelNone {
		t.anomaly(ctx, "Job without process address", e.Address)

		return nil
	}

	node, ok := t.tree.Get(res.ReportKey)
	if !ok {
		t.anomaly(ctx, "Job for unknown report node", e.Address, "report_key", res.ReportKey)

		return nil
	}

	key := JobKey(res.InvocationKey, e.Index)
	now := t.now()

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil
	}

	if _, exists := t.live[key]; exists {
		t.mu.Unlock()
		t.anomaly(ctx, "Duplicate job dispatch", e.Address, "invocation_key", key)

		return nil
	}

	owner, ok := t.live[res.InvocationKey]
	if !ok {
		owner = t.ancestor(res.InvocationKey)
	}

	job := &invocation{
		key:       key,
		name:      res.DisplayName,
		kind:      KindJob,
		index:     slices.Clone(e.Index),
		reportKey: res.ReportKey,
		report:    node,
		parent:    owner,
		inputs:    make(map[string]models.Address),
		outputs:   make(map[string]models.Address),
		startedAt: now,
	}
	t.live[key] = job

	t.mu.Unlock()

	inputs, err := t.materializePorts(ctx, e.Inputs, models.InvocationsArea.Child(key).Child(inputsSegment))

	t.mu.Lock()
	if t.live[key] == job {
		maps.Copy(job.inputs, inputs)
	}

	if owner != nil && t.live[owner.key] == owner {
		maps.Copy(owner.inputs, inputs)
	}
	t.mu.Unlock()

	node.AttachInputs(indexPorts(inputs, e.Index))

	if err != nil {
		t.fail(ctx, node, err)

		return err
	}

	return nil
}

func (t *Tracker) jobCompleted(ctx context.Context, e *events.JobCompleted) error {
	res := t.resolver.Resolve(e.Address)
	key := JobKey(res.InvocationKey, e.Index)

	t.mu.Lock()

	job, ok := t.live[key]
	if ok {
		delete(t.live, key)
	}

	t.mu.Unlock()

	if !ok {
		t.anomaly(ctx, "Job result without live invocation", e.Address, "invocation_key", key)

		return nil
	}

	outputs, err := t.materializePorts(ctx, e.Outputs, models.InvocationsArea.Child(key).Child(outputsSegment))

	job.report.AttachOutputs(indexPorts(outputs, e.Index))

	if err != nil {
		t.fail(ctx, job.report, err)

		return err
	}

	completed := t.now()
	job.completedAt = &completed
	job.outputs = outputs

	t.logger.DebugContext(ctx, "Job completed", "invocation_key", key, "duration", completed.Sub(job.startedAt))

	return nil
}

func (t *Tracker) deregister(ctx context.Context, e *events.Deregister) {
	res := t.resolver.Resolve(e.Address)

	t.mu.Lock()

	inv, ok := t.live[res.InvocationKey]
	if !ok {
		t.mu.Unlock()
		t.anomaly(ctx, "Deregister without live invocation", e.Address, "invocation_key", res.InvocationKey)

		return
	}

	delete(t.live, inv.key)

	var orphaned []string

	if inv.kind == KindActivity {
		prefix := inv.key + "["
		for key, job := range t.live {
			if job.kind == KindJob && strings.HasPrefix(key, prefix) {
				delete(t.live, key)
				orphaned = append(orphaned, key)
			}
		}
	}

	completed := t.now()
	inv.completedAt = &completed
	inputs := maps.Clone(inv.inputs)
	outputs := maps.Clone(inv.outputs)

	t.mu.Unlock()

	node := inv.report
	node.AttachOutputs(outputs)

	switch inv.kind {
	case KindWorkflow:
		node.AttachInputs(inputs)

		lists := inv.lists
		if inv.parent == nil {
			lists = t.rootLists
		}

		sealed, err := lists.seal(ctx, t.materializer.Tree())
		node.AttachOutputs(sealed)

		if err != nil {
			t.fail(ctx, node, err)

			return
		}

		node.MarkCompleted(completed)
	case KindStep:
		if step, ok := node.(*report.StepReport); ok {
			step.Freeze()
		}

		node.MarkCompleted(completed)
	case KindActivity:
		if len(orphaned) > 0 {
			sort.Strings(orphaned)
			t.logger.WarnContext(ctx, "Activity ended with jobs in flight", "invocation_key", inv.key, "jobs", orphaned)
			node.MarkFailed(completed)

			return
		}

		node.MarkCompleted(completed)
	default:
		node.MarkCompleted(completed)
	}
}

// materializePorts materializes each port under area/<port> in port order and
// stops at the first failure, returning what was written so far.
func (t *Tracker) materializePorts(ctx context.Context, ports refs.Ports, area models.Address) (map[string]models.Address, error) {
	out := make(map[string]models.Address, len(ports))

	for _, port := range slices.Sorted(maps.Keys(ports)) {
		addr, err := t.materializer.Materialize(ctx, ports[port], area.Child(port))
		if err != nil {
			return out, err
		}

		out[port] = addr
	}

	return out, nil
}

func indexPorts(ports map[string]models.Address, index []int) map[string]models.Address {
	out := make(map[string]models.Address, len(ports))
	for port, addr := range ports {
		out[portKey(port, index)] = addr
	}

	return out
}

func kindOf(level address.Level) Kind {
	switch level {
	case address.LevelWorkflow:
		return KindWorkflow
	case address.LevelStep:
		return KindStep
	default:
		return KindActivity
	}
}
