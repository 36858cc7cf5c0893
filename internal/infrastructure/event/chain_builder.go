package event

import (
	"fmt"
	"sort"

	"github.com/chronik/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// RegistryBuilder collects current-schema event registrations and schema
// migration edges, then compiles them into an immutable Registry. All graph
// validation happens in Build, before any traffic is served; the read path
// never validates.
type RegistryBuilder struct {
	current map[string]Constructor
	// edges maps family -> source version -> migration step
	edges map[string]map[int]migrationEdge
}

type migrationEdge struct {
	to       int
	upcaster Upcaster
}

// NewRegistryBuilder creates an empty builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		current: make(map[string]Constructor),
		edges:   make(map[string]map[int]migrationEdge),
	}
}

// RegisterEvent registers a current-schema event type under its exact tag.
// The constructor must produce a pointer the decoder can unmarshal into.
func (b *RegistryBuilder) RegisterEvent(tag string, ctor Constructor) error {
	if _, _, err := shared.SplitTypeTag(tag); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrConfiguration, err)
	}
	if _, exists := b.current[tag]; exists {
		return fmt.Errorf("%w: event tag %q registered twice", shared.ErrConfiguration, tag)
	}
	b.current[tag] = ctor
	return nil
}

// RegisterUpcaster registers a single schema migration step for an event
// family (the family-qualified name, e.g. "Order.Placed"). Two edges sharing
// a source version within one family are an ambiguous migration and rejected
// immediately.
func (b *RegistryBuilder) RegisterUpcaster(family string, from, to int, transform TransformFunc) error {
	if from == to {
		return fmt.Errorf("%w: upcaster for %s maps v%d onto itself", shared.ErrConfiguration, family, from)
	}
	if b.edges[family] == nil {
		b.edges[family] = make(map[int]migrationEdge)
	}
	if existing, dup := b.edges[family][from]; dup {
		return fmt.Errorf("%w: ambiguous migration for %s: v%d -> v%d conflicts with v%d -> v%d",
			shared.ErrConfiguration, family, from, to, from, existing.to)
	}
	b.edges[family][from] = migrationEdge{to: to, upcaster: NewUpcaster(from, to, transform)}
	return nil
}

// Build validates the migration graph of every family and compiles the
// pre-resolved chains. After Build returns without error, every historical
// type tag the system can encounter resolves in O(1) to a chain and a
// current constructor.
func (b *RegistryBuilder) Build(logger *zap.Logger) (*Registry, error) {
	registry := &Registry{
		current: make(map[string]Constructor, len(b.current)),
		legacy:  make(map[string]resolved),
	}
	for tag, ctor := range b.current {
		registry.current[tag] = ctor
	}

	families := make([]string, 0, len(b.edges))
	for family := range b.edges {
		families = append(families, family)
	}
	sort.Strings(families)

	for _, family := range families {
		edges := b.edges[family]

		terminal, err := findTerminal(family, edges)
		if err != nil {
			return nil, err
		}

		terminalTag := shared.FormatTypeTag(family, terminal)
		ctor, ok := registry.current[terminalTag]
		if !ok {
			return nil, fmt.Errorf("%w: terminal version of %s is v%d but %q is not a registered current type",
				shared.ErrConfiguration, family, terminal, terminalTag)
		}

		sources := make([]int, 0, len(edges))
		for from := range edges {
			sources = append(sources, from)
		}
		sort.Ints(sources)

		for _, source := range sources {
			chain, err := walkChain(family, edges, source, terminal)
			if err != nil {
				return nil, err
			}
			sourceTag := shared.FormatTypeTag(family, source)
			registry.legacy[sourceTag] = resolved{chain: chain, construct: ctor, currentTag: terminalTag}
			if logger != nil {
				logger.Debug("compiled upcaster chain",
					zap.String("family", family),
					zap.Int("from_version", source),
					zap.Int("to_version", terminal),
					zap.Int("steps", len(chain)),
				)
			}
		}
	}

	return registry, nil
}

// findTerminal computes the unique version that appears as a migration
// target but never as a source. Zero or multiple candidates mean the schema
// graph does not converge.
func findTerminal(family string, edges map[int]migrationEdge) (int, error) {
	targets := make(map[int]bool, len(edges))
	for _, e := range edges {
		targets[e.to] = true
	}
	var terminals []int
	for to := range targets {
		if _, isSource := edges[to]; !isSource {
			terminals = append(terminals, to)
		}
	}
	switch len(terminals) {
	case 1:
		return terminals[0], nil
	case 0:
		return 0, fmt.Errorf("%w: migration graph for %s has no terminal version (cycle)",
			shared.ErrConfiguration, family)
	default:
		sort.Ints(terminals)
		return 0, fmt.Errorf("%w: migration graph for %s does not converge: candidate terminals %v",
			shared.ErrConfiguration, family, terminals)
	}
}

// walkChain follows the adjacency map from source to terminal, accumulating
// the instantiated upcasters. Revisiting a version is a cycle; running out
// of edges before the terminal is a gap.
func walkChain(family string, edges map[int]migrationEdge, source, terminal int) (Chain, error) {
	var chain Chain
	visited := map[int]bool{source: true}
	at := source
	for at != terminal {
		edge, ok := edges[at]
		if !ok {
			return nil, fmt.Errorf("%w: migration gap for %s: no upcaster from v%d toward terminal v%d",
				shared.ErrConfiguration, family, at, terminal)
		}
		if visited[edge.to] {
			return nil, fmt.Errorf("%w: migration cycle for %s at v%d -> v%d",
				shared.ErrConfiguration, family, at, edge.to)
		}
		visited[edge.to] = true
		chain = append(chain, edge.upcaster)
		at = edge.to
	}
	return chain, nil
}
