// Package payment implements the transaction journal and payment
// verification against an external gateway.
package payment

import (
	"context"
	"errors"
)

// ErrOrderNotFound is returned by a Gateway for unknown order ids.
var ErrOrderNotFound = errors.New("order not found")

// OrderPaid is the gateway status of a fully paid order.
const OrderPaid = "paid"

// Order is the gateway's view of a payment order.
type Order struct {
	ID       string
	Status   string
	Receipt  string
	Amount   int64
	Currency string
}

// Paid reports whether the gateway considers the order settled.
func (o *Order) Paid() bool {
	return o.Status == OrderPaid
}

// Gateway is the external payment provider.
type Gateway interface {
	// CreateOrder registers an order for amount minor units and returns its id.
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
}
