package tracker

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukex/operion-monitor/pkg/address"
	"github.com/dukex/operion-monitor/pkg/engine"
	"github.com/dukex/operion-monitor/pkg/events"
	"github.com/dukex/operion-monitor/pkg/log"
	"github.com/dukex/operion-monitor/pkg/materializer"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/persistence/memory"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/dukex/operion-monitor/pkg/registry"
	"github.com/dukex/operion-monitor/pkg/report"
	"github.com/dukex/operion-monitor/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const runID = "run-1"

var (
	rootAddr     = []string{"main"}
	stepAddr     = []string{"main", "s"}
	activityAddr = []string{"main", "s", "act-7f3a"}
	nestedAddr   = []string{"main", "s", "act-7f3a", "bk-1", "inner"}
)

type fixture struct {
	tracker *Tracker
	tree    *report.Tree
	content *persistence.ContentTree
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Second)

	return c.now
}

func setupTracker(t *testing.T) *fixture {
	t.Helper()

	wf := testutil.CreateTestWorkflow()
	inner := testutil.CreateTestWorkflow(testutil.WithID("inner"), testutil.WithSteps("t"))
	profile := testutil.CreateTestProfile(map[string][]*models.Activity{
		"s": {testutil.NestedActivity("act", registry.ActivityTypeWorkflow, inner, nil)},
	})

	tree, err := report.Build(wf, profile, registry.NewDefaultRegistry())
	require.NoError(t, err)

	content := persistence.NewContentTree(memory.NewPersistence())
	mat := materializer.New(content, engine.NewDefaultResolver(nil), log.Discard())

	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := New(tree, address.NewResolver(), mat, log.Discard(), WithClock(c.tick))

	return &fixture{tracker: tr, tree: tree, content: content}
}

func (f *fixture) handle(t *testing.T, event events.Event) error {
	t.Helper()

	return f.tracker.Handle(t.Context(), event)
}

func (f *fixture) leaf(t *testing.T, addr models.Address) string {
	t.Helper()

	node, err := f.content.Node(t.Context(), addr)
	require.NoError(t, err)
	require.Equal(t, models.NodeKindLeaf, node.Kind, "address %s", addr)

	return node.Text()
}

func register(addr []string, subject string, properties map[string]any) *events.Register {
	return &events.Register{
		BaseEvent:  events.NewBaseEvent(events.RegisterEvent, runID, addr),
		Subject:    subject,
		Properties: properties,
	}
}

func deregister(addr []string) *events.Deregister {
	return &events.Deregister{BaseEvent: events.NewBaseEvent(events.DeregisterEvent, runID, addr)}
}

func dispatched(addr []string, index []int, inputs refs.Ports) *events.JobDispatched {
	return &events.JobDispatched{
		BaseEvent: events.NewBaseEvent(events.JobDispatchedEvent, runID, addr),
		Index:     index,
		Inputs:    inputs,
	}
}

func completed(addr []string, index []int, outputs refs.Ports) *events.JobCompleted {
	return &events.JobCompleted{
		BaseEvent: events.NewBaseEvent(events.JobCompletedEvent, runID, addr),
		Index:     index,
		Outputs:   outputs,
	}
}

func TestTracker_WorkflowLifecycle(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, dispatched(rootAddr, []int{0}, refs.Ports{"in": refs.Text("i1", "42")})))

	job, ok := f.tracker.Invocation("main[0]")
	require.True(t, ok)
	assert.Equal(t, KindJob, job.Kind)
	assert.Equal(t, "main", job.ParentKey)
	assert.Equal(t, models.Address("invocations/main[0]/inputs/in"), job.Inputs["in"])

	require.NoError(t, f.handle(t, completed(rootAddr, []int{0}, refs.Ports{"out": refs.Text("o1", "84")})))
	require.NoError(t, f.handle(t, deregister(rootAddr)))

	assert.Empty(t, f.tracker.Invocations())
	_, ok = f.tracker.Invocation("main")
	assert.False(t, ok)

	snapshot := f.tree.Root().Snapshot()
	require.NotNil(t, snapshot.StartedAt)
	require.NotNil(t, snapshot.CompletedAt)
	assert.Nil(t, snapshot.FailedAt)
	assert.False(t, snapshot.CompletedAt.Before(*snapshot.StartedAt))
	assert.Equal(t, models.Address("invocations/main[0]/outputs/out"), snapshot.Outputs["out[0]"])

	assert.Equal(t, "42", f.leaf(t, "invocations/main[0]/inputs/in"))
	assert.Equal(t, "84", f.leaf(t, "invocations/main[0]/outputs/out"))
	assert.Zero(t, f.tracker.Anomalies())
}

func TestTracker_StepAndActivity(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", map[string]any{"queued": 1})))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))

	activity, ok := f.tracker.Invocation("main/s/act-7f3a")
	require.True(t, ok)
	assert.Equal(t, KindActivity, activity.Kind)
	assert.Equal(t, "main/s/act", activity.ReportKey)
	assert.Equal(t, "main/s", activity.ParentKey)
	assert.Equal(t, "act-7f3a", activity.Name)

	activityReport, ok := f.tree.Activity("main/s/act")
	require.True(t, ok)
	assert.NotNil(t, activityReport.Snapshot().StartedAt)

	require.NoError(t, f.handle(t, &events.AddProperties{
		BaseEvent:  events.NewBaseEvent(events.AddPropertiesEvent, runID, stepAddr),
		Properties: map[string]any{"queued": 0, "completed": 1},
	}))

	require.NoError(t, f.handle(t, deregister(activityAddr)))
	require.NoError(t, f.handle(t, deregister(stepAddr)))

	require.NoError(t, f.handle(t, &events.AddProperties{
		BaseEvent:  events.NewBaseEvent(events.AddPropertiesEvent, runID, stepAddr),
		Properties: map[string]any{"completed": 99},
	}))

	step, ok := f.tree.Step("main/s")
	require.True(t, ok)

	stepSnapshot := step.Snapshot()
	assert.True(t, stepSnapshot.Frozen)
	assert.NotNil(t, stepSnapshot.CompletedAt)
	assert.Equal(t, map[string]any{"queued": 0, "completed": 1}, stepSnapshot.Properties)

	activitySnapshot := activityReport.Snapshot()
	assert.NotNil(t, activitySnapshot.CompletedAt)
	assert.Nil(t, activitySnapshot.FailedAt)
}

func TestTracker_BookkeepingTokenIgnored(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", nil)))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))
	require.NoError(t, f.handle(t, register(nestedAddr, "inner", nil)))

	_, ok := f.tracker.Invocation("main/s/act-7f3a/inner")
	require.True(t, ok)

	// Same position, different bookkeeping token.
	require.NoError(t, f.handle(t, deregister([]string{"main", "s", "act-7f3a", "bk-2", "inner"})))

	_, ok = f.tracker.Invocation("main/s/act-7f3a/inner")
	assert.False(t, ok)

	nested, ok := f.tree.Workflow("main/s/act/inner")
	require.True(t, ok)
	assert.NotNil(t, nested.Snapshot().CompletedAt)
}

func TestTracker_ParallelJobsThenAbandon(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", nil)))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))

	for i := range 3 {
		require.NoError(t, f.handle(t, dispatched(activityAddr, []int{i}, nil)))
	}

	for i := range 2 {
		require.NoError(t, f.handle(t, completed(activityAddr, []int{i}, refs.Ports{"out": refs.Text("o"+FormatIndex([]int{i}), "v")})))
	}

	_, ok := f.tracker.Invocation("main/s/act-7f3a[2]")
	require.True(t, ok)

	f.tracker.Abandon()

	for _, inv := range f.tracker.Invocations() {
		assert.NotEqual(t, KindJob, inv.Kind)
	}

	assert.Empty(t, f.tracker.Invocations())

	// Late delivery after abandon is dropped without touching reports.
	require.NoError(t, f.handle(t, completed(activityAddr, []int{2}, nil)))
	require.NoError(t, f.handle(t, deregister(stepAddr)))

	step, ok := f.tree.Step("main/s")
	require.True(t, ok)
	assert.Nil(t, step.Snapshot().CompletedAt)
	assert.Zero(t, f.tracker.Anomalies())
}

func TestTracker_ActivityEndsWithJobsInFlight(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", nil)))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))
	require.NoError(t, f.handle(t, dispatched(activityAddr, []int{0}, nil)))
	require.NoError(t, f.handle(t, dispatched(activityAddr, []int{1}, nil)))
	require.NoError(t, f.handle(t, completed(activityAddr, []int{0}, nil)))
	require.NoError(t, f.handle(t, deregister(activityAddr)))

	for _, inv := range f.tracker.Invocations() {
		assert.NotEqual(t, KindJob, inv.Kind, inv.Key)
	}

	activity, ok := f.tree.Activity("main/s/act")
	require.True(t, ok)

	snapshot := activity.Snapshot()
	assert.NotNil(t, snapshot.FailedAt)
	assert.Nil(t, snapshot.CompletedAt)
}

func TestTracker_Anomalies(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, completed(activityAddr, []int{0}, nil)))
	require.NoError(t, f.handle(t, deregister(stepAddr)))
	require.NoError(t, f.handle(t, register([]string{"main", "unknown-step"}, "x", nil)))
	require.NoError(t, f.handle(t, register(nil, "", nil)))

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))

	require.NoError(t, f.handle(t, dispatched(rootAddr, []int{0}, nil)))
	require.NoError(t, f.handle(t, dispatched(rootAddr, []int{0}, nil)))

	assert.Equal(t, int64(6), f.tracker.Anomalies())
}

func TestTracker_ResolutionErrorMarksFailed(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", nil)))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))
	require.NoError(t, f.handle(t, dispatched(activityAddr, []int{0}, nil)))

	stale := &refs.Set{Identity: "stale", Alternatives: []refs.Representation{
		{Kind: refs.RepresentationFile, Location: filepath.Join(t.TempDir(), "gone.txt")},
	}}

	err := f.handle(t, completed(activityAddr, []int{0}, refs.Ports{"out": stale}))
	require.Error(t, err)
	assert.ErrorIs(t, err, materializer.ErrUnreachableLocator)

	activity, ok := f.tree.Activity("main/s/act")
	require.True(t, ok)
	assert.NotNil(t, activity.Snapshot().FailedAt)

	require.NoError(t, f.handle(t, deregister(activityAddr)))
	assert.Nil(t, activity.Snapshot().CompletedAt)
}

func TestTracker_RootResult(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.tracker.Result(t.Context(), rootAddr, "x", nil, refs.Text("r1", "hello")))
	assert.Equal(t, "hello", f.leaf(t, "outputs/x"))

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.tracker.Result(t.Context(), rootAddr, "y", []int{0, 1}, refs.Text("r2", "streamed")))
	assert.Equal(t, "streamed", f.leaf(t, "outputs/y/0/1"))

	root, ok := f.tracker.Invocation("main")
	require.True(t, ok)
	assert.Equal(t, models.Address("outputs/y/0/1"), root.Outputs["y[0,1]"])

	outputs := f.tree.Root().Snapshot().Outputs
	assert.Equal(t, models.Address("outputs/x"), outputs["x"])
}

func TestTracker_IndexedRootOutputsSealedAsLists(t *testing.T) {
	f := setupTracker(t)
	ctx := t.Context()

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.tracker.Result(ctx, rootAddr, "y", []int{1}, refs.Text("y1", "b")))
	require.NoError(t, f.tracker.Result(ctx, rootAddr, "y", []int{0}, refs.Text("y0", "a")))
	require.NoError(t, f.tracker.Result(ctx, rootAddr, "z", []int{0, 1}, refs.Text("z01", "c")))
	require.NoError(t, f.tracker.Result(ctx, rootAddr, "z", []int{1, 0}, refs.Text("z10", "d")))
	require.NoError(t, f.tracker.Result(ctx, rootAddr, "z", []int{0, 0}, refs.Text("z00", "e")))

	node, err := f.content.Node(ctx, "outputs/y")
	require.NoError(t, err)
	assert.True(t, node.IsMissing())

	require.NoError(t, f.handle(t, deregister(rootAddr)))

	node, err = f.content.Node(ctx, "outputs/y")
	require.NoError(t, err)
	assert.Equal(t, models.NodeKindList, node.Kind)
	assert.Equal(t, []models.Address{"outputs/y/0", "outputs/y/1"}, node.Children)

	node, err = f.content.Node(ctx, "outputs/z")
	require.NoError(t, err)
	assert.Equal(t, []models.Address{"outputs/z/0", "outputs/z/1"}, node.Children)

	node, err = f.content.Node(ctx, "outputs/z/0")
	require.NoError(t, err)
	assert.Equal(t, models.NodeKindList, node.Kind)
	assert.Equal(t, []models.Address{"outputs/z/0/0", "outputs/z/0/1"}, node.Children)

	snapshot := f.tree.Root().Snapshot()
	assert.Equal(t, models.Address("outputs/y"), snapshot.Outputs["y"])
	assert.Equal(t, models.Address("outputs/y/1"), snapshot.Outputs["y[1]"])
	assert.NotNil(t, snapshot.CompletedAt)
	assert.Nil(t, snapshot.FailedAt)
}

func TestTracker_IndexedNestedOutputsSealedAsList(t *testing.T) {
	f := setupTracker(t)
	ctx := t.Context()

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", nil)))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))
	require.NoError(t, f.handle(t, register(nestedAddr, "inner", nil)))

	require.NoError(t, f.tracker.Result(ctx, nestedAddr, "out", []int{0}, refs.Text("n0", "first")))
	require.NoError(t, f.handle(t, deregister(nestedAddr)))

	base := models.Address("invocations/main/s/act-7f3a/inner/outputs/out")

	node, err := f.content.Node(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, models.NodeKindList, node.Kind)
	assert.Equal(t, []models.Address{base.Index(0)}, node.Children)

	nested, ok := f.tree.Get("main/s/act/inner")
	require.True(t, ok)
	assert.Equal(t, base, nested.Snapshot().Outputs["out"])
}

func TestTracker_RootResultFailure(t *testing.T) {
	f := setupTracker(t)

	err := f.tracker.Result(t.Context(), rootAddr, "x", nil, &refs.Set{Identity: "empty"})
	require.ErrorIs(t, err, materializer.ErrEmptyReferenceSet)
	assert.NotNil(t, f.tree.Root().Snapshot().FailedAt)
}

func TestTracker_NestedWorkflow(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.content.PutLeaf(t.Context(), "inputs/in", []byte("seed"), "", ""))
	f.tracker.SetInputs(map[string]models.Address{"in": "inputs/in"})

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))
	require.NoError(t, f.handle(t, register(stepAddr, "s", nil)))
	require.NoError(t, f.handle(t, register(activityAddr, "act", nil)))
	require.NoError(t, f.handle(t, register(nestedAddr, "inner", nil)))

	root, ok := f.tracker.Invocation("main")
	require.True(t, ok)
	assert.Equal(t, models.Address("inputs/in"), root.Inputs["in"])

	nested, ok := f.tracker.Invocation("main/s/act-7f3a/inner")
	require.True(t, ok)
	assert.Equal(t, "main/s/act/inner", nested.ReportKey)
	assert.Equal(t, "main/s/act-7f3a", nested.ParentKey)
	assert.Equal(t, models.Address("inputs/in"), nested.Inputs["in"])

	require.NoError(t, f.tracker.Result(t.Context(), nestedAddr, "out", nil, refs.Text("n1", "inner value")))

	nested, ok = f.tracker.Invocation("main/s/act-7f3a/inner")
	require.True(t, ok)

	want := models.Address("invocations/main/s/act-7f3a/inner/outputs/out")
	assert.Equal(t, want, nested.Inputs["out"])
	assert.Equal(t, want, nested.Outputs["out"])
	assert.Equal(t, "inner value", f.leaf(t, want))

	node, err := f.content.Node(t.Context(), "outputs/out")
	require.NoError(t, err)
	assert.True(t, node.IsMissing())
}

func TestTracker_ResultForUnknownNestedWorkflow(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.tracker.Result(t.Context(), nestedAddr, "out", nil, refs.Text("n1", "v")))
	require.NoError(t, f.tracker.Result(t.Context(), rootAddr, "out", nil, nil))
	assert.Equal(t, int64(2), f.tracker.Anomalies())
}

func TestTracker_ConcurrentIndependentBranches(t *testing.T) {
	f := setupTracker(t)

	require.NoError(t, f.handle(t, register(rootAddr, "main", nil)))

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			index := []int{i}
			assert.NoError(t, f.tracker.Handle(t.Context(), dispatched(rootAddr, index, refs.Ports{
				"in": refs.Text("in"+FormatIndex(index), "v"),
			})))
			assert.NoError(t, f.tracker.Handle(t.Context(), completed(rootAddr, index, nil)))
		}()
	}

	wg.Wait()

	invocations := f.tracker.Invocations()
	require.Len(t, invocations, 1)
	assert.Equal(t, "main", invocations[0].Key)
	assert.Zero(t, f.tracker.Anomalies())
}

func TestFormatIndex(t *testing.T) {
	assert.Equal(t, "[0,1]", FormatIndex([]int{0, 1}))
	assert.Equal(t, "[]", FormatIndex(nil))
	assert.Equal(t, "main/s/x[3]", JobKey("main/s/x", []int{3}))
}
