package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dukex/operion-monitor/pkg/cmd"
	"github.com/dukex/operion-monitor/pkg/controller"
	"github.com/dukex/operion-monitor/pkg/engine"
	"github.com/dukex/operion-monitor/pkg/materializer"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/workflow"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type runOptions struct {
	RunID         string
	DocumentPath  string
	LogPath       string
	DatabaseURL   string
	RedisURL      string
	EventBus      cmd.EventBusConfig
	ActivityTypes []string
	OTELEnabled   bool
	// Settle is how long to wait after the replay for asynchronous transports to drain.
	Settle time.Duration
}

// monitoredRun is a replayed run fully wired to a controller.
type monitoredRun struct {
	id         string
	controller *controller.Controller
	replay     *engine.Replay
	settle     time.Duration
	logger     *slog.Logger

	closers []func(context.Context) error
}

func openRun(ctx context.Context, opts runOptions, logger *slog.Logger) (*monitoredRun, error) {
	runID := opts.RunID
	if runID == "" {
		runID = "run-" + uuid.New().String()
	}

	logger = logger.With("run_id", runID)

	doc, err := workflow.LoadFile(opts.DocumentPath)
	if err != nil {
		return nil, err
	}

	records, err := readRecords(opts.LogPath)
	if err != nil {
		return nil, err
	}

	run := &monitoredRun{id: runID, settle: opts.Settle, logger: logger}

	store, err := cmd.NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	bus, err := cmd.NewEventBus(opts.EventBus, runID, logger)
	if err != nil {
		_ = store.Close(ctx)

		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	cache, closeCache, err := cmd.NewCache(ctx, logger, opts.RedisURL, runID)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)

		return nil, fmt.Errorf("failed to create materialization cache: %w", err)
	}

	run.closers = append(run.closers, func(context.Context) error { return closeCache() })

	tracer, shutdown := cmd.NewTracer(ctx, logger, opts.OTELEnabled, "operion-monitor")
	run.closers = append(run.closers, shutdown)

	resolver := engine.NewDefaultResolver(nil)

	inputs, err := materializeInputs(ctx, store, resolver, cache, tracer, doc, logger)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)
		_ = run.release(ctx)

		return nil, err
	}

	run.replay = engine.NewReplay(bus, records, logger)

	run.controller, err = controller.New(controller.Config{
		RunID:    runID,
		Workflow: doc.Workflow,
		Profile:  doc.Profile,
		Inputs:   inputs,
	}, controller.Dependencies{
		Registry: cmd.NewRegistry(logger, opts.ActivityTypes),
		Store:    store,
		Bus:      bus,
		Engine:   run.replay,
		Resolver: resolver,
		Cache:    cache,
		Tracer:   tracer,
	}, logger)
	if err != nil {
		_ = bus.Close()
		_ = store.Close(ctx)
		_ = run.release(ctx)

		return nil, err
	}

	return run, nil
}

func readRecords(path string) ([]engine.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer file.Close()

	return engine.ReadLog(file)
}

// materializeInputs writes the document's input values under inputs/<port>.
func materializeInputs(
	ctx context.Context,
	store persistence.Persistence,
	resolver engine.Resolver,
	cache materializer.Cache,
	tracer trace.Tracer,
	doc *workflow.Document,
	logger *slog.Logger,
) (map[string]models.Address, error) {
	mat := materializer.New(persistence.NewContentTree(store), resolver, logger,
		materializer.WithCache(cache),
		materializer.WithTracer(tracer),
	)

	ports := make([]string, 0, len(doc.Inputs))
	for port := range doc.Inputs {
		ports = append(ports, port)
	}

	slices.Sort(ports)

	inputs := make(map[string]models.Address, len(ports))

	for _, port := range ports {
		addr, err := mat.Materialize(ctx, doc.Inputs[port], models.InputsArea.Child(port))
		if err != nil {
			return nil, fmt.Errorf("failed to materialize input %s: %w", port, err)
		}

		inputs[port] = addr
	}

	return inputs, nil
}

// Execute starts the controller and blocks until the replay has finished.
func (r *monitoredRun) Execute(ctx context.Context) error {
	r.controller.Start(ctx)

	err := r.replay.Wait(ctx)

	if r.settle > 0 {
		select {
		case <-time.After(r.settle):
		case <-ctx.Done():
		}
	}

	return errors.Join(err, r.controller.Err())
}

// Close deletes the run and releases everything openRun acquired.
func (r *monitoredRun) Close(ctx context.Context) error {
	r.controller.Delete(ctx)

	return r.release(ctx)
}

func (r *monitoredRun) release(ctx context.Context) error {
	var errs []error

	for _, closeFn := range r.closers {
		errs = append(errs, closeFn(ctx))
	}

	return errors.Join(errs...)
}
