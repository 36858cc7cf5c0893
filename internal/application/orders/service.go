package orders

import (
	"context"

	"github.com/chronik/backend/internal/application/sourcing"
	"github.com/chronik/backend/internal/domain/order"
	"github.com/chronik/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the command-side application service for orders. Commands load
// (or create) the aggregate, raise events through the live apply path, and
// persist the pending events in one optimistic append. Retrying on a
// concurrency conflict is left to the caller.
type Service struct {
	reconstructor *sourcing.Reconstructor
	repository    *sourcing.Repository
}

// NewService creates an order command service
func NewService(reconstructor *sourcing.Reconstructor, repository *sourcing.Repository) *Service {
	return &Service{
		reconstructor: reconstructor,
		repository:    repository,
	}
}

// Place creates a new order for a customer and persists its creation event
func (s *Service) Place(ctx context.Context, fullName string) (*order.Order, error) {
	if fullName == "" {
		return nil, shared.NewDomainError("ORDER_NO_CUSTOMER", "Customer name cannot be empty")
	}

	o := order.New(uuid.New())
	engine := s.reconstructor.Engine()
	if err := engine.ApplyLive(o, order.NewPlaced(o.Identity(), fullName)); err != nil {
		return nil, err
	}
	if err := s.repository.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// AddItem appends a line item to an existing order
func (s *Service) AddItem(ctx context.Context, orderID uuid.UUID, productCode string, quantity, unitPrice decimal.Decimal) (*order.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	evt := order.NewItemAdded(orderID, productCode, quantity, unitPrice)
	if err := s.reconstructor.Engine().ApplyLive(o, evt); err != nil {
		return nil, err
	}
	if err := s.repository.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Ship marks an order as shipped
func (s *Service) Ship(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.reconstructor.Engine().ApplyLive(o, order.NewShipped(orderID)); err != nil {
		return nil, err
	}
	if err := s.repository.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Cancel cancels an order
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*order.Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.reconstructor.Engine().ApplyLive(o, order.NewCancelled(orderID, reason)); err != nil {
		return nil, err
	}
	if err := s.repository.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns the current state of an order
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	return s.load(ctx, orderID)
}

func (s *Service) load(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	agg, err := s.reconstructor.Load(ctx, order.Category, orderID)
	if err != nil {
		return nil, err
	}
	return agg.(*order.Order), nil
}
