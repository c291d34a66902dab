package metadata

import (
	"encoding/json"
	"maps"
	"time"
)

// Archive is the current version of one category's metadata.
type Archive struct {
	Category Categories `json:"category"`
	Version  uint64     `json:"version"`
	Source   string     `json:"source,omitempty"`
	Path     string     `json:"path,omitempty"`
	LoadedAt time.Time  `json:"loaded_at"`
}

// ArchiveSet maps each category to its current archive.
//
// An ArchiveSet is immutable; the coordinator replaces it as a whole.
// The zero value is an empty set.
type ArchiveSet struct {
	archives map[Categories]Archive
}

// Get returns the archive for a single category.
func (s ArchiveSet) Get(c Categories) (Archive, bool) {
	a, ok := s.archives[c]
	return a, ok
}

// Categories returns the set of categories that currently have an archive.
func (s ArchiveSet) Categories() Categories {
	var out Categories
	for c := range s.archives {
		out |= c
	}
	return out
}

// Len returns the number of categories with an archive.
func (s ArchiveSet) Len() int { return len(s.archives) }

// Archives returns every archive ordered by category bit.
func (s ArchiveSet) Archives() []Archive {
	out := make([]Archive, 0, len(s.archives))
	for c := range AllCategories.Each() {
		if a, ok := s.archives[c]; ok {
			out = append(out, a)
		}
	}
	return out
}

// MarshalJSON encodes the set as a list of archives.
func (s ArchiveSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Archives())
}

// with returns a copy of s with the given archives replaced.
func (s ArchiveSet) with(archives ...Archive) ArchiveSet {
	next := maps.Clone(s.archives)
	if next == nil {
		next = make(map[Categories]Archive, len(archives))
	}
	for _, a := range archives {
		next[a.Category] = a
	}
	return ArchiveSet{archives: next}
}

// without returns a copy of s with the given categories dropped.
func (s ArchiveSet) without(c Categories) ArchiveSet {
	next := maps.Clone(s.archives)
	for cat := range c.Each() {
		delete(next, cat)
	}
	return ArchiveSet{archives: next}
}
