package sourcing

import (
	"fmt"
	"sort"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerFunc mutates aggregate state for one specific event type. Handlers
// are the single authority for state mutation: the live path and historical
// replay dispatch to the same function.
type HandlerFunc func(aggregate shared.Aggregate, event shared.EventInstance) error

// Definition describes one event-sourced aggregate type at registration
// time. Handlers are keyed by family-qualified event name ("Order.Placed"),
// built once, never probed reflectively.
type Definition struct {
	// Category names the aggregate type and prefixes its streams.
	Category string
	// NewShell produces a blank reconstitution shell for the given identity,
	// invariant-suppressed until replay completes.
	NewShell func(id uuid.UUID) shared.Aggregate
	// Handlers maps family-qualified event names to mutation handlers.
	Handlers map[string]HandlerFunc
}

// Engine converges the live mutation path and the historical replay path
// onto one set of per-event-type handlers, with the version bookkeeping and
// invariant suppression rules that differ between the two.
//
// The engine holds no mutable state after registration completes; concurrent
// use against different aggregate instances is safe.
type Engine struct {
	definitions map[string]*Definition
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewEngine creates an engine with no registered aggregate types
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		definitions: make(map[string]*Definition),
		validate:    validator.New(),
		logger:      logger,
	}
}

// RegisterAggregate registers an aggregate type definition. Registration
// problems are configuration errors and fatal at startup.
func (e *Engine) RegisterAggregate(def Definition) error {
	if def.Category == "" {
		return fmt.Errorf("%w: aggregate definition has no category", shared.ErrConfiguration)
	}
	if def.NewShell == nil {
		return fmt.Errorf("%w: aggregate %s has no reconstitution factory", shared.ErrConfiguration, def.Category)
	}
	if len(def.Handlers) == 0 {
		return fmt.Errorf("%w: aggregate %s registers no event handlers", shared.ErrConfiguration, def.Category)
	}
	if _, exists := e.definitions[def.Category]; exists {
		return fmt.Errorf("%w: aggregate category %s registered twice", shared.ErrConfiguration, def.Category)
	}
	// The handler map is copied so dispatch is immutable after registration.
	copied := def
	copied.Handlers = make(map[string]HandlerFunc, len(def.Handlers))
	for family, handler := range def.Handlers {
		copied.Handlers[family] = handler
	}
	e.definitions[def.Category] = &copied
	return nil
}

// Definition returns the registered definition for a category
func (e *Engine) Definition(category string) (*Definition, bool) {
	def, ok := e.definitions[category]
	return def, ok
}

// Categories returns all registered aggregate categories, sorted
func (e *Engine) Categories() []string {
	categories := make([]string, 0, len(e.definitions))
	for category := range e.definitions {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// ApplyLive applies a freshly raised event to an aggregate. The version is
// incremented before the handler runs; the mutation executes inside an
// invariant-checking scope (pre-conditions, per-field checks suspended
// during the mutation, post-conditions); on success the event joins the
// pending list. Any failure rolls the in-memory mutation back, so a
// violating event can never appear in the pending events.
func (e *Engine) ApplyLive(agg shared.Aggregate, evt shared.EventInstance) error {
	if agg.IsTemporal() {
		return fmt.Errorf("%w: %s %s", shared.ErrTemporalAggregate, agg.Category(), agg.Identity())
	}
	if evt.IsFact() {
		return fmt.Errorf("%w: fact events are emitted, not applied", shared.ErrInvalidState)
	}

	handler, err := e.handlerFor(agg.Category(), evt)
	if err != nil {
		return err
	}

	memento, err := agg.CaptureState()
	if err != nil {
		return fmt.Errorf("failed to capture pre-mutation state: %w", err)
	}
	version := agg.Version()
	position := agg.Position()

	checksActive := !agg.InvariantChecksSuppressed()
	// Pre-conditions assert the previously consistent state; there is none
	// before the creation event.
	if checksActive && version > shared.GenesisVersion {
		if err := e.checkInvariants(agg); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvariantViolation, err)
		}
	}

	agg.IncrementVersion()
	agg.IncrementPosition()

	// Per-field checks are suspended while the handler mutates.
	if checksActive {
		agg.SuppressInvariantChecks()
	}
	err = handler(agg, evt)
	if checksActive {
		agg.ResumeInvariantChecks()
	}
	if err != nil {
		e.rollback(agg, memento, version, position)
		return err
	}

	if checksActive {
		if err := e.checkInvariants(agg); err != nil {
			e.rollback(agg, memento, version, position)
			return fmt.Errorf("%w: %v", shared.ErrInvariantViolation, err)
		}
		if err := e.validate.Struct(agg); err != nil {
			e.rollback(agg, memento, version, position)
			return fmt.Errorf("%w: %v", shared.ErrInvariantViolation, err)
		}
	}

	agg.AppendPending(evt)
	return nil
}

// ApplyReplay applies a stored event during reconstruction. The handler runs
// without any invariant checking (an aggregate mid-replay may transiently
// violate invariants that only hold once every event is applied) and the
// version increments after the handler returns. Fact events are skipped
// without touching the version.
func (e *Engine) ApplyReplay(agg shared.Aggregate, evt shared.EventInstance) error {
	if evt.IsFact() {
		return nil
	}

	handler, err := e.handlerFor(agg.Category(), evt)
	if err != nil {
		return err
	}
	if err := handler(agg, evt); err != nil {
		return fmt.Errorf("replay of %s failed at version %d: %w", evt.TypeTag(), agg.Version()+1, err)
	}
	agg.IncrementVersion()
	return nil
}

// EmitFact appends an auto-generated full-state fact event for external
// consumers. Facts occupy a stream slot but never increment the version and
// never dispatch to a handler.
func (e *Engine) EmitFact(agg shared.Aggregate) error {
	if agg.IsTemporal() {
		return fmt.Errorf("%w: %s %s", shared.ErrTemporalAggregate, agg.Category(), agg.Identity())
	}
	state, err := agg.CaptureState()
	if err != nil {
		return fmt.Errorf("failed to capture state for fact event: %w", err)
	}
	fact := shared.NewFactEvent(agg.Category(), agg.Identity(), agg.Version(), state)
	agg.IncrementPosition()
	agg.AppendPending(fact)
	return nil
}

// handlerFor resolves the mutation handler for an event. A missing handler
// is a configuration defect and surfaces immediately.
func (e *Engine) handlerFor(category string, evt shared.EventInstance) (HandlerFunc, error) {
	def, ok := e.definitions[category]
	if !ok {
		return nil, fmt.Errorf("%w: aggregate category %s is not registered", shared.ErrConfiguration, category)
	}
	family, _, err := shared.SplitTypeTag(evt.TypeTag())
	if err != nil {
		return nil, err
	}
	handler, ok := def.Handlers[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s on aggregate %s", shared.ErrHandlerMissing, family, category)
	}
	return handler, nil
}

func (e *Engine) checkInvariants(agg shared.Aggregate) error {
	if checker, ok := agg.(shared.InvariantChecker); ok {
		return checker.CheckInvariants()
	}
	return nil
}

func (e *Engine) rollback(agg shared.Aggregate, memento []byte, version, position int) {
	if err := agg.RestoreState(memento); err != nil && e.logger != nil {
		e.logger.Error("failed to roll back aggregate state",
			zap.String("category", agg.Category()),
			zap.String("aggregate_id", agg.Identity().String()),
			zap.Error(err),
		)
	}
	agg.SetVersion(version)
	agg.SetPosition(position)
}
