package event

import (
	"fmt"
)

// Upcaster transforms an event payload from one schema version to another.
// Upcasters are pure and stateless by contract: instantiated once at
// configuration time and reused for every subsequent transformation.
type Upcaster interface {
	// SourceVersion returns the version this upcaster reads from
	SourceVersion() int
	// TargetVersion returns the version this upcaster produces
	TargetVersion() int
	// Transform rewrites the decoded payload map from source to target shape
	Transform(payload map[string]any) (map[string]any, error)
}

// TransformFunc is the function form of a payload transformation
type TransformFunc func(payload map[string]any) (map[string]any, error)

// funcUpcaster adapts a TransformFunc to the Upcaster interface
type funcUpcaster struct {
	source    int
	target    int
	transform TransformFunc
}

// NewUpcaster creates an upcaster from a transformation function
func NewUpcaster(source, target int, transform TransformFunc) Upcaster {
	return &funcUpcaster{
		source:    source,
		target:    target,
		transform: transform,
	}
}

// SourceVersion returns the source version
func (u *funcUpcaster) SourceVersion() int {
	return u.source
}

// TargetVersion returns the target version
func (u *funcUpcaster) TargetVersion() int {
	return u.target
}

// Transform applies the transformation function
func (u *funcUpcaster) Transform(payload map[string]any) (map[string]any, error) {
	out, err := u.transform(payload)
	if err != nil {
		return nil, fmt.Errorf("upcast v%d -> v%d failed: %w", u.source, u.target, err)
	}
	return out, nil
}

// Chain is the pre-compiled, ordered sequence of upcasters that carries a
// payload from one source version to the family's terminal version. Chains
// are built once at startup and immutable afterward, so unsynchronized
// concurrent reads are safe.
type Chain []Upcaster

// Apply runs every upcaster in order over the payload map
func (c Chain) Apply(payload map[string]any) (map[string]any, error) {
	current := payload
	var err error
	for _, u := range c {
		current, err = u.Transform(current)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}
