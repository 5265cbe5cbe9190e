// Package registry resolves logical agent names to the executable that
// implements them, so the executor never has to guess a binary's location.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Entry describes how to launch one agent: the executable path and any
// fixed arguments prepended before the wire request is written to stdin.
type Entry struct {
	Path string
	Args []string
}

// Registry maps agent names to launch entries. It is safe for concurrent
// use; entries are typically registered once at startup by scanning
// BinDir, with room for tests or operators to register extra entries
// directly.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the launch entry for name.
func (r *Registry) Register(name string, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry
}

// ErrAgentNotFound is returned by Resolve when no entry exists for the
// requested agent name.
var ErrAgentNotFound = fmt.Errorf("registry: agent not found")

// Resolve returns the launch entry registered for name.
func (r *Registry) Resolve(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return entry, nil
}

// Names returns every registered agent name, sorted so callers (such as
// the startup log line) see a deterministic order across runs despite
// Go's randomized map iteration.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadDir registers one entry per executable file directly inside dir,
// using the file's base name as the agent name. It skips subdirectories
// and files without the executable bit set.
func LoadDir(dir string) (*Registry, error) {
	r := New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("registry: read bin dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&0111 == 0 {
			continue
		}
		name := e.Name()
		r.Register(name, Entry{Path: filepath.Join(dir, name)})
	}
	return r, nil
}
