// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/dukex/operion-monitor/pkg/registry"
)

// NewRegistry creates the default activity registry plus the extra types
// named in activityTypes. Entries ending in "+workflow" wrap a sub-workflow.
func NewRegistry(logger *slog.Logger, activityTypes []string) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultActivities()

	for _, entry := range activityTypes {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, nested := strings.CutSuffix(entry, "+workflow")
		reg.RegisterActivity(registry.ActivityType{ID: id, Description: "Configured activity type", Nested: nested})
	}

	return reg
}
