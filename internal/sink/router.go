package sink

import (
	"fmt"
)

// UnroutedOutputError names an output the router could not place. Silent
// misrouting is a correctness bug, so this always fails the job with the
// offending output in the message.
type UnroutedOutputError struct {
	Plugin string
	Output string
}

func (e *UnroutedOutputError) Error() string {
	return fmt.Sprintf("no sink configured for output %q of plugin %q (add an exact rule or a %q default)",
		e.Output, e.Plugin, WildcardOutput)
}

// Router resolves a plugin's runtime output names to configured destinations.
// It is built once per job from the plugin's sink rows.
type Router struct {
	plugin   string
	byName   map[string]Config
	catchAll *Config
}

// NewRouter indexes the sink rows declared for one plugin.
func NewRouter(plugin string, configs []Config) *Router {
	r := &Router{
		plugin: plugin,
		byName: make(map[string]Config, len(configs)),
	}
	for _, c := range configs {
		if c.Output == WildcardOutput {
			cc := c
			r.catchAll = &cc
			continue
		}
		r.byName[c.Output] = c
	}
	return r
}

// Resolve picks the destination for one output name. A lone wildcard row
// covers every output a single-output plugin produces; otherwise exact match
// wins, the wildcard default catches the rest, and an unmatched output with
// no default is an UnroutedOutputError.
func (r *Router) Resolve(output string) (Config, error) {
	if len(r.byName) == 0 && r.catchAll != nil {
		return *r.catchAll, nil
	}
	if c, ok := r.byName[output]; ok {
		return c, nil
	}
	if r.catchAll != nil {
		return *r.catchAll, nil
	}
	return Config{}, &UnroutedOutputError{Plugin: r.plugin, Output: output}
}
