package order

import (
	"encoding/json"
	"fmt"

	"github.com/chronik/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is the aggregate category prefixing order streams and type tags
const Category = "Order"

// Status represents the lifecycle state of an order
type Status string

const (
	StatusPlaced    Status = "PLACED"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

// IsValid checks if the status is a known Status
func (s Status) IsValid() bool {
	switch s {
	case StatusPlaced, StatusShipped, StatusCancelled:
		return true
	}
	return false
}

// Item is a line item on an order
type Item struct {
	ProductCode string          `json:"product_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Order is an event-sourced aggregate: its state is derived entirely from
// its event stream, and every mutation happens inside an apply handler.
type Order struct {
	shared.AggregateRoot

	CustomerName string          `json:"customer_name" validate:"required"`
	Status       Status          `json:"status" validate:"required"`
	Items        []Item          `json:"items"`
	Total        decimal.Decimal `json:"total"`
}

// New creates the root for a brand-new order. State is populated by
// applying the Placed event through the live path.
func New(id uuid.UUID) *Order {
	return &Order{AggregateRoot: shared.NewAggregateRoot(id)}
}

// NewShell creates the blank reconstitution shell replay populates
func NewShell(id uuid.UUID) shared.Aggregate {
	return &Order{AggregateRoot: shared.NewReconstitutedRoot(id)}
}

// Category returns the aggregate category
func (o *Order) Category() string {
	return Category
}

// ApplyPlaced mutates state for the Placed event
func (o *Order) ApplyPlaced(e *Placed) {
	o.CustomerName = e.FullName
	o.Status = StatusPlaced
	o.Items = nil
	o.Total = decimal.Zero
}

// ApplyItemAdded mutates state for the ItemAdded event
func (o *Order) ApplyItemAdded(e *ItemAdded) {
	amount := e.Quantity.Mul(e.UnitPrice)
	o.Items = append(o.Items, Item{
		ProductCode: e.ProductCode,
		Quantity:    e.Quantity,
		UnitPrice:   e.UnitPrice,
		Amount:      amount,
	})
	o.Total = o.Total.Add(amount)
}

// ApplyShipped mutates state for the Shipped event
func (o *Order) ApplyShipped(*Shipped) {
	o.Status = StatusShipped
}

// ApplyCancelled mutates state for the Cancelled event
func (o *Order) ApplyCancelled(*Cancelled) {
	o.Status = StatusCancelled
}

// CheckInvariants asserts the cross-field consistency rules of an order.
// Checks run around live mutations only; mid-replay state is exempt.
func (o *Order) CheckInvariants() error {
	if !o.Status.IsValid() {
		return shared.NewDomainError("ORDER_NO_STATUS", "Order has no valid status")
	}
	sum := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity.LessThanOrEqual(decimal.Zero) {
			return shared.NewDomainError("ORDER_BAD_QUANTITY", "Item quantity must be positive")
		}
		sum = sum.Add(item.Amount)
	}
	if !sum.Equal(o.Total) {
		return shared.NewDomainError("ORDER_TOTAL_MISMATCH",
			fmt.Sprintf("Order total %s does not match item sum %s", o.Total, sum))
	}
	if o.Status == StatusShipped && len(o.Items) == 0 {
		return shared.NewDomainError("ORDER_EMPTY_SHIPMENT", "Cannot ship an order with no items")
	}
	return nil
}

// orderState is the serialized field map captured by snapshots, fact events
// and live-path rollback
type orderState struct {
	CustomerName string          `json:"customer_name"`
	Status       Status          `json:"status"`
	Items        []Item          `json:"items"`
	Total        decimal.Decimal `json:"total"`
}

// CaptureState serializes the order's domain fields
func (o *Order) CaptureState() ([]byte, error) {
	return json.Marshal(orderState{
		CustomerName: o.CustomerName,
		Status:       o.Status,
		Items:        o.Items,
		Total:        o.Total,
	})
}

// RestoreState is the inverse of CaptureState
func (o *Order) RestoreState(state []byte) error {
	var s orderState
	if err := json.Unmarshal(state, &s); err != nil {
		return err
	}
	o.CustomerName = s.CustomerName
	o.Status = s.Status
	o.Items = s.Items
	o.Total = s.Total
	return nil
}
