package payment

import "context"

// Order is the remote order handle returned by the gateway when a payment
// is initiated. Amount is in minor units.
type Order struct {
	Ref      string
	Amount   int64
	Currency string
}

// Gateway abstracts the two operations the purchase engine needs from an
// upstream payment provider. CreateOrder registers a payable order sized to
// the (discounted) total; VerifySignature proves a payment callback is
// authentic without touching remote state.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error)
	VerifySignature(orderRef, paymentRef, signature string) bool
}
