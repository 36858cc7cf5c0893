package order

import (
	"github.com/chronik/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Current-schema type tags for the order event families. The Placed family
// is at v2: v1 stored the customer under "name" and is upcast on read.
const (
	PlacedTag    = "Order.Placed.v2"
	ItemAddedTag = "Order.ItemAdded.v1"
	ShippedTag   = "Order.Shipped.v1"
	CancelledTag = "Order.Cancelled.v1"
)

// Placed records that a customer placed an order
type Placed struct {
	shared.BaseEvent
	FullName string `json:"full_name"`
}

// NewPlaced creates a Placed event
func NewPlaced(orderID uuid.UUID, fullName string) *Placed {
	return &Placed{
		BaseEvent: shared.NewBaseEvent(PlacedTag, orderID),
		FullName:  fullName,
	}
}

// ItemAdded records a line item added to an order
type ItemAdded struct {
	shared.BaseEvent
	ProductCode string          `json:"product_code"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// NewItemAdded creates an ItemAdded event
func NewItemAdded(orderID uuid.UUID, productCode string, quantity, unitPrice decimal.Decimal) *ItemAdded {
	return &ItemAdded{
		BaseEvent:   shared.NewBaseEvent(ItemAddedTag, orderID),
		ProductCode: productCode,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	}
}

// Shipped records that an order left the warehouse
type Shipped struct {
	shared.BaseEvent
}

// NewShipped creates a Shipped event
func NewShipped(orderID uuid.UUID) *Shipped {
	return &Shipped{BaseEvent: shared.NewBaseEvent(ShippedTag, orderID)}
}

// Cancelled records that an order was cancelled
type Cancelled struct {
	shared.BaseEvent
	Reason string `json:"reason"`
}

// NewCancelled creates a Cancelled event
func NewCancelled(orderID uuid.UUID, reason string) *Cancelled {
	return &Cancelled{
		BaseEvent: shared.NewBaseEvent(CancelledTag, orderID),
		Reason:    reason,
	}
}

// UpcastPlacedV1 migrates Order.Placed.v1 payloads: the customer field was
// renamed from "name" to "full_name" in v2.
func UpcastPlacedV1(data map[string]any) (map[string]any, error) {
	if name, ok := data["name"]; ok {
		data["full_name"] = name
		delete(data, "name")
	}
	return data, nil
}
