package orders

import (
	"fmt"

	"github.com/chronik/backend/internal/application/sourcing"
	"github.com/chronik/backend/internal/domain/order"
	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/event"
)

// Register wires the Order aggregate into the apply engine and the type-tag
// registry builder: current event schemas, the Placed v1 -> v2 migration,
// the fact-event tag, and the mutation handler map. Called once at startup;
// any error is a configuration defect.
func Register(engine *sourcing.Engine, events *event.RegistryBuilder) error {
	registrations := []struct {
		tag  string
		ctor event.Constructor
	}{
		{order.PlacedTag, func() shared.EventInstance { return &order.Placed{} }},
		{order.ItemAddedTag, func() shared.EventInstance { return &order.ItemAdded{} }},
		{order.ShippedTag, func() shared.EventInstance { return &order.Shipped{} }},
		{order.CancelledTag, func() shared.EventInstance { return &order.Cancelled{} }},
		{shared.FactTypeTag(order.Category), func() shared.EventInstance { return &shared.FactEvent{} }},
	}
	for _, reg := range registrations {
		if err := events.RegisterEvent(reg.tag, reg.ctor); err != nil {
			return err
		}
	}

	if err := events.RegisterUpcaster("Order.Placed", 1, 2, order.UpcastPlacedV1); err != nil {
		return err
	}

	return engine.RegisterAggregate(sourcing.Definition{
		Category: order.Category,
		NewShell: order.NewShell,
		Handlers: map[string]sourcing.HandlerFunc{
			"Order.Placed":    handle(func(o *order.Order, e *order.Placed) { o.ApplyPlaced(e) }),
			"Order.ItemAdded": handle(func(o *order.Order, e *order.ItemAdded) { o.ApplyItemAdded(e) }),
			"Order.Shipped":   handle(func(o *order.Order, e *order.Shipped) { o.ApplyShipped(e) }),
			"Order.Cancelled": handle(func(o *order.Order, e *order.Cancelled) { o.ApplyCancelled(e) }),
		},
	})
}

// handle adapts a typed mutation to the engine's handler signature
func handle[E shared.EventInstance](mutate func(*order.Order, E)) sourcing.HandlerFunc {
	return func(agg shared.Aggregate, evt shared.EventInstance) error {
		o, ok := agg.(*order.Order)
		if !ok {
			return fmt.Errorf("%w: expected *order.Order, got %T", shared.ErrInvalidInput, agg)
		}
		e, ok := evt.(E)
		if !ok {
			return fmt.Errorf("%w: unexpected event %T for tag %s", shared.ErrInvalidInput, evt, evt.TypeTag())
		}
		mutate(o, e)
		return nil
	}
}
