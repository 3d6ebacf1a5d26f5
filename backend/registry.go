package backend

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/matgraph/technique"
)

// ErrCompilerNotAvailable is returned when no compiler is registered for a
// profile.
var ErrCompilerNotAvailable = errors.New("backend: no shader compiler for profile")

// CompilerFactory creates a shader compiler.
type CompilerFactory func() technique.ShaderCompiler

var (
	registryMu sync.RWMutex
	compilers  = make(map[string]CompilerFactory)
	// Priority order for Default.
	profilePriority = []string{"spirv", "wgsl"}
)

// Register registers a compiler factory for profile, replacing any earlier
// registration.
func Register(profile string, factory CompilerFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	compilers[profile] = factory
}

// Unregister removes the compiler for profile.
// This is useful for testing.
func Unregister(profile string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(compilers, profile)
}

// Available returns the registered profiles, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(compilers))
	for name := range compilers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a compiler is registered for profile.
func IsRegistered(profile string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := compilers[profile]
	return ok
}

// Get returns a compiler for profile, or nil if none is registered.
func Get(profile string) technique.ShaderCompiler {
	registryMu.RLock()
	factory, ok := compilers[profile]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory()
}

// Lookup is Get with an error naming the profile and what is available.
func Lookup(profile string) (technique.ShaderCompiler, error) {
	if sc := Get(profile); sc != nil {
		return sc, nil
	}
	return nil, fmt.Errorf("%w %q (available: %v)", ErrCompilerNotAvailable, profile, Available())
}

// Default returns the compiler of the highest priority registered profile
// and its name, or nil if nothing is registered.
func Default() (technique.ShaderCompiler, string) {
	for _, name := range profilePriority {
		if sc := Get(name); sc != nil {
			return sc, name
		}
	}
	for _, name := range Available() {
		if sc := Get(name); sc != nil {
			return sc, name
		}
	}
	return nil, ""
}
