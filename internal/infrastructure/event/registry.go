package event

import (
	"sort"

	"github.com/chronik/backend/internal/domain/shared"
)

// Constructor produces a zero-valued current-schema event instance, ready
// for the decoder to unmarshal a payload into.
type Constructor func() shared.EventInstance

// resolved is the pre-compiled read-path entry for one historical type tag
type resolved struct {
	chain      Chain
	construct  Constructor
	currentTag string
}

// Registry is the immutable type-tag registry the decoder consults. It maps
// exact current-schema tags to constructors, and old-schema tags to the
// pre-built upcaster chain plus the same current constructor. Together the
// two mappings cover every type tag that can legally appear in the log.
// Built once by RegistryBuilder; safe for concurrent reads afterward.
type Registry struct {
	current map[string]Constructor
	legacy  map[string]resolved
}

// CurrentConstructor returns the constructor for an exact current-schema tag
func (r *Registry) CurrentConstructor(tag string) (Constructor, bool) {
	ctor, ok := r.current[tag]
	return ctor, ok
}

// Resolve returns the upcaster chain, the current constructor and the
// current tag for an old-schema tag
func (r *Registry) Resolve(tag string) (Chain, Constructor, string, bool) {
	entry, ok := r.legacy[tag]
	if !ok {
		return nil, nil, "", false
	}
	return entry.chain, entry.construct, entry.currentTag, true
}

// IsCurrent reports whether the tag matches the current schema exactly
func (r *Registry) IsCurrent(tag string) bool {
	_, ok := r.current[tag]
	return ok
}

// CurrentTags returns all registered current-schema tags, sorted
func (r *Registry) CurrentTags() []string {
	tags := make([]string, 0, len(r.current))
	for tag := range r.current {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// LegacyTags returns all historical tags with a resolution chain, sorted
func (r *Registry) LegacyTags() []string {
	tags := make([]string, 0, len(r.legacy))
	for tag := range r.legacy {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
