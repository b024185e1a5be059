package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Driver)
)

// Register adds a driver to the global registry under its name and aliases.
// This is typically called from a driver package's init() function.
//
// Panics if a driver with the same name is already registered.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, name := range append([]string{d.Name()}, d.Aliases()...) {
		if _, exists := drivers[name]; exists {
			panic(fmt.Sprintf("driver %q already registered", name))
		}
		drivers[name] = d
	}
}

// Get retrieves a driver by name or alias (case-insensitive).
func Get(nameOrAlias string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, exists := drivers[strings.ToLower(nameOrAlias)]
	if !exists {
		return nil, fmt.Errorf("unknown database driver: %q (available: %v)", nameOrAlias, availableLocked())
	}
	return d, nil
}

// Available returns a sorted list of registered primary driver names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return availableLocked()
}

func availableLocked() []string {
	seen := make(map[string]bool)
	for _, d := range drivers {
		seen[d.Name()] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
