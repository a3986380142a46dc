package tools

// FilteredCopy returns a new registry containing only the named tools,
// sharing the same collaborators. Unknown names are ignored. Behaviors
// use this to hand the model a restricted action catalog.
func (r *Registry) FilteredCopy(include []string) *Registry {
	filtered := &Registry{
		tools:       make(map[string]*Tool, len(include)),
		ticketing:   r.ticketing,
		callTimeout: r.callTimeout,
		logger:      r.logger,
	}
	for _, name := range include {
		if t, ok := r.tools[name]; ok {
			filtered.tools[name] = t
		}
	}
	return filtered
}
