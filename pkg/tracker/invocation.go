package tracker

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/refs"
	"github.com/dukex/operion-monitor/pkg/report"
)

// Kind is the level of a live invocation.
type Kind string

const (
	KindWorkflow Kind = "workflow"
	KindStep     Kind = "step"
	KindActivity Kind = "activity"
	KindJob      Kind = "job"
)

// outputListener receives the values a workflow invocation produces.
type outputListener func(ctx context.Context, port string, index []int, ref refs.Reference) error

type invocation struct {
	key       string
	name      string
	kind      Kind
	index     []int
	reportKey string
	report    report.Node
	parent    *invocation

	inputs      map[string]models.Address
	outputs     map[string]models.Address
	startedAt   time.Time
	completedAt *time.Time

	listener outputListener
	lists    *indexedOutputs
}

// Invocation is a copy of one live invocation.
type Invocation struct {
	Key         string                    `json:"key"`
	Name        string                    `json:"name"`
	Kind        Kind                      `json:"kind"`
	Index       []int                     `json:"index,omitempty"`
	ReportKey   string                    `json:"report_key"`
	ParentKey   string                    `json:"parent_key,omitempty"`
	Inputs      map[string]models.Address `json:"inputs,omitempty"`
	Outputs     map[string]models.Address `json:"outputs,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

func (i *invocation) snapshot() Invocation {
	s := Invocation{
		Key:       i.key,
		Name:      i.name,
		Kind:      i.kind,
		Index:     append([]int(nil), i.index...),
		ReportKey: i.reportKey,
		Inputs:    maps.Clone(i.inputs),
		Outputs:   maps.Clone(i.outputs),
		StartedAt: i.startedAt,
	}

	if i.parent != nil {
		s.ParentKey = i.parent.key
	}

	if i.completedAt != nil {
		completed := *i.completedAt
		s.CompletedAt = &completed
	}

	return s
}

// FormatIndex renders an iteration index as used in job keys, e.g. [0,1].
func FormatIndex(index []int) string {
	parts := make([]string, len(index))
	for i, n := range index {
		parts[i] = strconv.Itoa(n)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// JobKey is the live table key of one job of the invocation at key.
func JobKey(key string, index []int) string {
	return key + FormatIndex(index)
}

// portKey names an indexed port value, e.g. out[2]; unindexed ports keep their name.
func portKey(port string, index []int) string {
	if len(index) == 0 {
		return port
	}

	return port + FormatIndex(index)
}

func indexedAddress(base models.Address, index []int) models.Address {
	for _, i := range index {
		base = base.Index(i)
	}

	return base
}
