// Package vfs is the virtual file system: a path-keyed store of byte
// buffers, the sole I/O surface guest programs can reach.
package vfs

import (
	"sort"
	"sync"
)

// Store maps path strings to byte contents. Writes replace content
// atomically; readers never observe a partial write. A Store is safe
// for concurrent use so a host may inspect the arena while a machine
// runs on another goroutine.
type Store struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewStore creates an empty arena.
func NewStore() *Store {
	return &Store{files: make(map[string][]byte)}
}

// Read returns a copy of the content at path, or false when the path
// does not exist.
func (s *Store) Read(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.files[path]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, true
}

// Write replaces the content at path. The data is copied; the caller
// keeps ownership of its buffer.
func (s *Store) Write(path string, data []byte) {
	content := make([]byte, len(data))
	copy(content, data)

	s.mu.Lock()
	s.files[path] = content
	s.mu.Unlock()
}

// Remove deletes a path. It reports whether the path existed.
func (s *Store) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[path]; !ok {
		return false
	}
	delete(s.files, path)
	return true
}

// List returns the paths with the given prefix, sorted. The empty
// prefix lists the whole arena.
func (s *Store) List(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for path := range s.files {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of stored paths.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
