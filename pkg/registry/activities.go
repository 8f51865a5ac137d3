package registry

// Built-in activity types.
const (
	ActivityTypeScript   = "script"
	ActivityTypeHTTP     = "http"
	ActivityTypeTool     = "tool"
	ActivityTypeLocal    = "local"
	ActivityTypeWorkflow = "workflow"
)

// RegisterDefaultActivities registers all built-in activity types with the registry.
func (r *Registry) RegisterDefaultActivities() {
	r.RegisterActivity(ActivityType{ID: ActivityTypeScript, Description: "Inline script evaluated by the engine"})
	r.RegisterActivity(ActivityType{ID: ActivityTypeHTTP, Description: "Remote HTTP service call"})
	r.RegisterActivity(ActivityType{ID: ActivityTypeTool, Description: "External command line tool"})
	r.RegisterActivity(ActivityType{ID: ActivityTypeLocal, Description: "Engine-local built-in operation"})
	r.RegisterActivity(ActivityType{ID: ActivityTypeWorkflow, Description: "Nested sub-workflow", Nested: true})
}

// NewDefaultRegistry returns a registry holding the built-in activity types.
func NewDefaultRegistry() *Registry {
	r := NewRegistry(discardLogger())
	r.RegisterDefaultActivities()

	return r
}
