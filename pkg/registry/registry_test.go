package registry

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolveActivity(t *testing.T) {
	r := NewRegistry(slog.Default())
	r.RegisterActivity(ActivityType{ID: "mock", Description: "mock activity"})

	activityType, err := r.Activity("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock activity", activityType.Description)
	assert.False(t, activityType.Nested)
}

func TestRegistry_UnknownActivity(t *testing.T) {
	r := NewRegistry(slog.Default())

	_, err := r.Activity("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "activity type 'missing' not registered")
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, []string{"http", "local", "script", "tool", "workflow"}, r.ActivityTypes())

	nested, err := r.Activity(ActivityTypeWorkflow)
	require.NoError(t, err)
	assert.True(t, nested.Nested)
}
