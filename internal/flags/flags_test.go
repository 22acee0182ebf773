package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{"default on", New(nil), FlagPersistAttempts, true},
		{"config overrides default", New(map[string]bool{FlagPersistAttempts: false}), FlagPersistAttempts, false},
		{"unknown flag", New(nil), "does-not-exist", false},
		{"extra flag from config", New(map[string]bool{"experimental": true}), "experimental", true},
		{"nil registry", nil, FlagPersistAttempts, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_All_ReturnsCopy(t *testing.T) {
	r := New(map[string]bool{FlagPruneOnStart: false})
	all := r.All()
	require.Equal(t, map[string]bool{FlagPersistAttempts: true, FlagPruneOnStart: false}, all)

	all[FlagPruneOnStart] = true
	require.False(t, r.Enabled(FlagPruneOnStart))

	var nilRegistry *Registry
	require.Empty(t, nilRegistry.All())
}

func TestNew_DoesNotMutateInput(t *testing.T) {
	in := map[string]bool{"x": true}
	New(in)
	require.Equal(t, map[string]bool{"x": true}, in)
}
