package agentsec

import (
	"sort"
	"sync"
)

// registry tracks which provider wrappers have been armed. It is the single
// holder of patch state; no component outside keeps its own.
var registry = struct {
	mu      sync.Mutex
	patched map[string]bool
}{patched: map[string]bool{}}

// IsPatched reports whether the named provider wrapper was already armed.
func IsPatched(name string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return registry.patched[name]
}

// MarkPatched records the named provider wrapper as armed. Idempotent; it
// reports whether this call was the first to mark the name.
func MarkPatched(name string) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.patched[name] {
		return false
	}
	registry.patched[name] = true
	return true
}

// PatchedClients returns the sorted names of armed provider wrappers.
func PatchedClients() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	names := make([]string, 0, len(registry.patched))
	for name := range registry.patched {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResetRegistryForTest clears all patch state. Test use only.
func ResetRegistryForTest() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.patched = map[string]bool{}
}
