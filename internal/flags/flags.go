// Package flags provides feature flags read from the "flags" config section.
// Flags are read-only after initialization. Unknown flags fall back to the
// built-in default, and to false when there is none.
package flags

import (
	"maps"

	"github.com/zjrosen/deepfocus/internal/log"
)

const (
	// FlagPersistAttempts controls whether bypass attempt counts are written
	// through to the store. When off, counts live only in memory for the
	// lifetime of the engine.
	FlagPersistAttempts = "persist-attempts"

	// FlagPruneOnStart controls whether terminal sessions older than the
	// history retention window are pruned when the engine starts.
	FlagPruneOnStart = "prune-on-start"
)

// Defaults returns the built-in flag values.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagPersistAttempts: true,
		FlagPruneOnStart:    true,
	}
}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map layered over Defaults.
func New(flags map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, flags)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(merged), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled.
// Returns false for unknown flags and on a nil registry.
func (r *Registry) Enabled(name string) bool {
	if r == nil || r.flags == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags.
func (r *Registry) All() map[string]bool {
	if r == nil || r.flags == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
