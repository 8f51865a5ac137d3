package main

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/report"
	"github.com/dukex/operion-monitor/pkg/web"
)

// runSummary is what the replay command prints once a run has been replayed.
type runSummary struct {
	RunID     string                    `json:"run_id"`
	Reports   []report.Snapshot         `json:"reports"`
	Outputs   []web.ContentResponse     `json:"outputs"`
	Anomalies int64                     `json:"anomalies"`
	Error     string                    `json:"error,omitempty"`
	Live      int                       `json:"live_invocations"`
	Inputs    map[string]models.Address `json:"inputs,omitempty"`
}

func summarize(ctx context.Context, run *monitoredRun, runErr error) (runSummary, error) {
	tree := run.controller.Tree()

	summary := runSummary{
		RunID:     run.id,
		Anomalies: run.controller.Anomalies(),
		Live:      len(run.controller.Invocations()),
		Inputs:    tree.Root().Snapshot().Inputs,
	}

	for _, snapshot := range tree.Snapshot() {
		summary.Reports = append(summary.Reports, snapshot)
	}

	sort.Slice(summary.Reports, func(i, j int) bool { return summary.Reports[i].Key < summary.Reports[j].Key })

	outputs, err := contentUnder(ctx, run.controller.Store(), models.OutputsArea)
	if err != nil {
		return runSummary{}, err
	}

	summary.Outputs = outputs

	if runErr != nil {
		summary.Error = runErr.Error()
	}

	return summary, nil
}

func contentUnder(ctx context.Context, tree *persistence.ContentTree, prefix models.Address) ([]web.ContentResponse, error) {
	addresses, err := tree.Addresses(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]web.ContentResponse, 0, len(addresses))

	for _, addr := range addresses {
		node, err := tree.Node(ctx, addr)
		if err != nil {
			return nil, err
		}

		out = append(out, web.TransformContentNode(node))
	}

	return out, nil
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}
