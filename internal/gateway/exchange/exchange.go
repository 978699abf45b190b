package exchange

import "context"

// Gateway is the exchange capability the engine supervises orders through.
// Implementations own transport, authentication and rate limiting; callers only
// rely on these operations and the error taxonomy in errors.go.
type Gateway interface {
	Name() string

	PlaceOrder(ctx context.Context, spec OrderSpec) (int64, error)

	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error)

	ListOpenOrders(ctx context.Context, symbol string) ([]Order, error)

	ListOpenPositions(ctx context.Context) ([]Position, error)

	GetPrice(ctx context.Context, symbol string) (float64, error)
}
