// Package address decodes the process addresses an engine attaches to lifecycle events.
//
// A process address is an ordered token list that repeats the pattern
// workflow, step, activity, bookkeeping. Bookkeeping tokens carry no
// structural meaning and are dropped before any key is derived. Activity
// tokens are volatile runtime identities; the report tree is keyed by the
// stable activity token, so the resolver keeps a side table populated when
// activity registrations are observed.
package address

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidConvention indicates an address format the resolver cannot decode.
var ErrInvalidConvention = errors.New("invalid address convention")

// Separator joins key segments.
const Separator = "/"

// Level is the kind of node an address points at.
type Level string

const (
	LevelNone     Level = ""
	LevelWorkflow Level = "workflow"
	LevelStep     Level = "step"
	LevelActivity Level = "activity"
)

// Convention describes an engine's address format.
type Convention struct {
	// Stride is the size of one raw token group.
	Stride int
	// DropOffset is the position within a raw group of the bookkeeping token.
	DropOffset int
	// ActivitySlot is the position within a filtered group of the activity token.
	ActivitySlot int
}

// DefaultConvention drops every 4th token and keeps workflow, step, activity.
var DefaultConvention = Convention{Stride: 4, DropOffset: 3, ActivitySlot: 2}

// Validate checks that the convention describes a decodable format. A filtered
// group starts with the workflow token, so the activity slot is one of the
// remaining positions.
func (c Convention) Validate() error {
	if c.Stride < 3 {
		return fmt.Errorf("%w: stride %d, need at least 3", ErrInvalidConvention, c.Stride)
	}

	if c.DropOffset < 0 || c.DropOffset >= c.Stride {
		return fmt.Errorf("%w: drop offset %d outside [0,%d)", ErrInvalidConvention, c.DropOffset, c.Stride)
	}

	if c.ActivitySlot < 1 || c.ActivitySlot >= c.filteredStride() {
		return fmt.Errorf("%w: activity slot %d outside [1,%d)", ErrInvalidConvention, c.ActivitySlot, c.filteredStride())
	}

	return nil
}

func (c Convention) filteredStride() int {
	return c.Stride - 1
}

// Resolution is everything derived from one process address.
type Resolution struct {
	ReportKey     string
	InvocationKey string
	ParentKey     string
	DisplayName   string
	Level         Level
	// Segments are the filtered tokens the invocation key was built from.
	Segments []string
}

// Resolver turns process addresses into tree and table keys.
type Resolver struct {
	convention Convention

	mu         sync.RWMutex
	activities map[string]string
}

// NewResolver creates a resolver for the default engine convention.
func NewResolver() *Resolver {
	return NewResolverWithConvention(DefaultConvention)
}

// NewResolverWithConvention creates a resolver for a specific address format.
// The convention must pass Validate.
func NewResolverWithConvention(convention Convention) *Resolver {
	return &Resolver{
		convention: convention,
		activities: make(map[string]string),
	}
}

// Convention returns the address format in use.
func (r *Resolver) Convention() Convention {
	return r.convention
}

// Drop removes bookkeeping tokens. It is a pure function of its input.
func (r *Resolver) Drop(tokens []string) []string {
	return r.convention.Drop(tokens)
}

// Drop removes bookkeeping tokens according to the convention.
func (c Convention) Drop(tokens []string) []string {
	filtered := make([]string, 0, len(tokens))

	for i, token := range tokens {
		if c.Stride > 0 && i%c.Stride == c.DropOffset {
			continue
		}

		filtered = append(filtered, token)
	}

	return filtered
}

// LevelOf returns the node level of a filtered address of the given length.
// The first slot of a group is a workflow, the activity slot an activity and
// every other slot a step.
func (c Convention) LevelOf(length int) Level {
	if length == 0 {
		return LevelNone
	}

	switch slot := (length - 1) % c.filteredStride(); {
	case slot == 0:
		return LevelWorkflow
	case slot == c.ActivitySlot:
		return LevelActivity
	default:
		return LevelStep
	}
}

func (c Convention) isActivitySlot(i int) bool {
	return i%c.filteredStride() == c.ActivitySlot
}

// RecordActivity remembers the stable token behind a volatile activity id.
// The first recording wins.
func (r *Resolver) RecordActivity(runtimeID, stableToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[runtimeID]; !exists {
		r.activities[runtimeID] = stableToken
	}
}

// StableToken returns the recorded stable token for a volatile activity id.
func (r *Resolver) StableToken(runtimeID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.activities[runtimeID]

	return token, ok
}

// Resolve derives report key, invocation key, parent key and display name.
func (r *Resolver) Resolve(tokens []string) Resolution {
	segments := r.Drop(tokens)

	reportSegments := make([]string, len(segments))

	r.mu.RLock()

	for i, segment := range segments {
		reportSegments[i] = segment

		if r.convention.isActivitySlot(i) {
			if stable, ok := r.activities[segment]; ok {
				reportSegments[i] = stable
			}
		}
	}

	r.mu.RUnlock()

	resolution := Resolution{
		ReportKey:     strings.Join(reportSegments, Separator),
		InvocationKey: strings.Join(segments, Separator),
		Level:         r.convention.LevelOf(len(segments)),
		Segments:      segments,
	}

	if len(segments) > 1 {
		resolution.ParentKey = strings.Join(segments[:len(segments)-1], Separator)
	}

	if len(tokens) > 0 {
		resolution.DisplayName = tokens[len(tokens)-1]
	}

	return resolution
}

// Parent returns the invocation key one level up, or "" at the root.
func Parent(key string) string {
	i := strings.LastIndex(key, Separator)
	if i < 0 {
		return ""
	}

	return key[:i]
}
