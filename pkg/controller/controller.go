// Package controller drives one monitored run: it wires the tracker to the
// run's event bus and the engine's result callbacks, pushes supplied inputs
// and passes lifecycle commands through to the engine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dukex/operion-monitor/pkg/address"
	"github.com/dukex/operion-monitor/pkg/engine"
	"github.com/dukex/operion-monitor/pkg/eventbus"
	"github.com/dukex/operion-monitor/pkg/events"
	"github.com/dukex/operion-monitor/pkg/materializer"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/otelhelper"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/dukex/operion-monitor/pkg/registry"
	"github.com/dukex/operion-monitor/pkg/report"
	"github.com/dukex/operion-monitor/pkg/tracker"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAlreadyStarted = errors.New("run already started")
	ErrCancelled      = errors.New("run cancelled")
)

// Config describes the run to monitor.
type Config struct {
	RunID    string
	Workflow *models.Workflow
	Profile  *models.Profile
	// Inputs maps root input ports to values already materialized in the content tree.
	Inputs map[string]models.Address
	// Convention is the engine's process address format; zero means the default.
	Convention address.Convention
}

// Dependencies are the collaborators a controller wires together.
type Dependencies struct {
	Registry *registry.Registry
	Store    persistence.Persistence
	Bus      eventbus.EventBus
	Engine   engine.Engine
	Resolver engine.Resolver
	Cache    materializer.Cache
	Tracer   trace.Tracer
}

// Controller owns one monitored run. Lifecycle failures do not stop it; the
// first one is kept and reported by Err.
type Controller struct {
	runID    string
	workflow *models.Workflow
	inputs   map[string]models.Address

	tree         *report.Tree
	content      *persistence.ContentTree
	bus          eventbus.EventBus
	engine       engine.Engine
	tracker      *tracker.Tracker
	materializer *materializer.Materializer
	logger       *slog.Logger

	mu        sync.Mutex
	sub       *eventbus.Subscription
	started   bool
	cancelled bool
	deleted   bool
	err       error
}

// New builds the report tree and wires the components. A description the
// builder rejects, or an undecodable address convention, returns a
// *report.ConfigurationError and no controller.
func New(cfg Config, deps Dependencies, logger *slog.Logger) (*Controller, error) {
	logger = logger.With("module", "controller", "run_id", cfg.RunID)

	reg := deps.Registry
	if reg == nil {
		reg = registry.NewDefaultRegistry()
	}

	tree, err := report.NewBuilder(reg, logger).Build(cfg.Workflow, cfg.Profile)
	if err != nil {
		return nil, err
	}

	convention := cfg.Convention
	if convention == (address.Convention{}) {
		convention = address.DefaultConvention
	}

	err = convention.Validate()
	if err != nil {
		return nil, &report.ConfigurationError{Subject: "process address convention", Err: err}
	}

	if deps.Store == nil || deps.Bus == nil || deps.Engine == nil {
		return nil, errors.New("controller requires a store, an event bus and an engine")
	}

	resolver := deps.Resolver
	if resolver == nil {
		resolver = engine.NewDefaultResolver(nil)
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	var matOpts []materializer.Option
	matOpts = append(matOpts, materializer.WithTracer(tracer))

	if deps.Cache != nil {
		matOpts = append(matOpts, materializer.WithCache(deps.Cache))
	}

	content := persistence.NewContentTree(deps.Store)
	mat := materializer.New(content, resolver, logger, matOpts...)

	t := tracker.New(tree, address.NewResolverWithConvention(convention), mat, logger, tracker.WithTracer(tracer))

	return &Controller{
		runID:        cfg.RunID,
		workflow:     cfg.Workflow,
		inputs:       maps.Clone(cfg.Inputs),
		tree:         tree,
		content:      content,
		bus:          deps.Bus,
		engine:       deps.Engine,
		tracker:      t,
		materializer: mat,
		logger:       logger,
	}, nil
}

// RunID identifies the run on the event bus and in logs.
func (c *Controller) RunID() string { return c.runID }

// Tree returns the run's report tree.
func (c *Controller) Tree() *report.Tree { return c.tree }

// Store returns the run's content tree.
func (c *Controller) Store() *persistence.ContentTree { return c.content }

// Invocations returns the live invocation table.
func (c *Controller) Invocations() []tracker.Invocation { return c.tracker.Invocations() }

// Anomalies counts dropped bookkeeping events.
func (c *Controller) Anomalies() int64 { return c.tracker.Anomalies() }

// Err returns the first failure recorded against the run.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// Start subscribes the tracker to the run's events, registers the result
// callback, pushes every supplied root input and starts the engine.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()

	if c.started || c.cancelled {
		c.mu.Unlock()

		if c.isCancelled() {
			c.record(ctx, "start", ErrCancelled)
		} else {
			c.record(ctx, "start", ErrAlreadyStarted)
		}

		return
	}

	c.started = true
	c.mu.Unlock()

	sub, err := c.bus.Subscribe(context.WithoutCancel(ctx), c.handle)
	if err != nil {
		c.record(ctx, "subscribe", err)

		return
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.engine.OnResult(c.onResult)

	supplied := c.suppliedInputs()
	c.tracker.SetInputs(supplied)
	c.tree.Root().AttachInputs(supplied)

	for _, port := range c.workflow.Inputs {
		addr, ok := supplied[port.Name]
		if !ok {
			c.logger.DebugContext(ctx, "Input not supplied", "port", port.Name)

			continue
		}

		err = c.push(ctx, port.Name, addr)
		if err != nil {
			c.record(ctx, "push "+port.Name, err)
		}
	}

	err = c.engine.Start(ctx)
	if err != nil {
		c.record(ctx, "engine start", err)

		return
	}

	c.logger.InfoContext(ctx, "Run started", "topic", c.bus.Topic())
}

// Pause suspends the engine. Events already delivered are still applied.
func (c *Controller) Pause(ctx context.Context) {
	err := c.engine.Pause(ctx)
	if err != nil {
		c.record(ctx, "pause", err)
	}
}

// Resume continues a paused engine.
func (c *Controller) Resume(ctx context.Context) {
	err := c.engine.Resume(ctx)
	if err != nil {
		c.record(ctx, "resume", err)
	}
}

// Cancel stops event delivery, drops live invocations and cancels the engine.
// No tracker state changes once the subscription is gone.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()

	if c.cancelled {
		c.mu.Unlock()

		return
	}

	c.cancelled = true
	started := c.started
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	// Results the engine flushes while cancelling find the tracker closed.
	c.tracker.Abandon()

	if started {
		err := c.engine.Cancel(ctx)
		if err != nil {
			c.record(ctx, "engine cancel", err)
		}
	}

	c.logger.InfoContext(ctx, "Run cancelled")
}

// Delete cancels the run and releases the bus and the content store.
func (c *Controller) Delete(ctx context.Context) {
	c.Cancel(ctx)

	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()

		return
	}

	c.deleted = true
	c.mu.Unlock()

	err := c.bus.Close()
	if err != nil {
		c.record(ctx, "close event bus", err)
	}

	err = c.content.Close(ctx)
	if err != nil {
		c.record(ctx, "close content store", err)
	}
}

func (c *Controller) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled
}

func (c *Controller) record(ctx context.Context, op string, err error) {
	c.logger.ErrorContext(ctx, "Run operation failed", "op", op, "error", err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err == nil {
		c.err = fmt.Errorf("%s: %w", op, err)
	}
}

func (c *Controller) handle(ctx context.Context, event events.Event) error {
	err := c.tracker.Handle(ctx, event)
	if err != nil {
		c.record(ctx, string(event.GetType()), err)
	}

	return nil
}

func (c *Controller) onResult(ctx context.Context, addr []string, port string, index []int, ref refs.Reference) {
	err := c.tracker.Result(ctx, addr, port, index, ref)
	if err != nil {
		c.record(ctx, "result "+port, err)
	}
}

// suppliedInputs keeps the configured inputs the workflow declares.
func (c *Controller) suppliedInputs() map[string]models.Address {
	supplied := make(map[string]models.Address, len(c.inputs))

	for port, addr := range c.inputs {
		if _, declared := c.workflow.Input(port); !declared {
			c.logger.Warn("Ignoring input for undeclared port", "port", port)

			continue
		}

		supplied[port] = addr
	}

	return supplied
}

func (c *Controller) push(ctx context.Context, port string, addr models.Address) error {
	token, err := TokenFromContent(ctx, c.content, addr)
	if err != nil {
		return err
	}

	return c.engine.Push(ctx, port, token)
}
