// Package registry holds the activity types the report builder can resolve.
package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// ActivityType describes an activity implementation known to the monitor.
type ActivityType struct {
	ID          string
	Description string
	// Nested marks activity types that wrap a sub-workflow.
	Nested bool
}

type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	types map[string]ActivityType
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log,
		types:  make(map[string]ActivityType),
	}
}

// RegisterActivity adds or replaces an activity type.
func (r *Registry) RegisterActivity(activityType ActivityType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[activityType.ID]; exists {
		r.logger.Warn("Replacing registered activity type", "activity_type", activityType.ID)
	}

	r.types[activityType.ID] = activityType
}

// Activity resolves an activity type by ID.
func (r *Registry) Activity(id string) (ActivityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activityType, ok := r.types[id]
	if !ok {
		return ActivityType{}, fmt.Errorf("activity type '%s' not registered", id)
	}

	return activityType, nil
}

// ActivityTypes returns the registered type IDs in sorted order.
func (r *Registry) ActivityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.types))
}
