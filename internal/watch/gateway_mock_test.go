package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"vigil/internal/gateway/exchange"

	"github.com/stretchr/testify/mock"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string { return "mock" }

func (m *mockGateway) PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (int64, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	args := m.Called(ctx, symbol, orderID)
	return args.Error(0)
}

func (m *mockGateway) GetOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	args := m.Called(ctx, symbol, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.Order), args.Error(1)
}

func (m *mockGateway) ListOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Order), args.Error(1)
}

func (m *mockGateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Position), args.Error(1)
}

func (m *mockGateway) GetPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

// recordingNotifier captures pushed messages for assertions.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) SendText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}

func specOfKind(kind exchange.OrderKind) interface{} {
	return mock.MatchedBy(func(spec exchange.OrderSpec) bool {
		return spec.Kind == kind
	})
}

// fixedNow is an arbitrary mid-interval instant used across the watch tests.
var fixedNow = time.Date(2025, 6, 15, 10, 7, 42, 0, time.UTC)

func newTestWatcher(t *testing.T, gw exchange.Gateway) (*Watcher, *recordingNotifier) {
	tn := &recordingNotifier{}
	store := NewStore(t.TempDir() + "/state.json")
	w := NewWatcher(store, gw, tn, Options{Leverage: 10})
	w.now = func() time.Time { return fixedNow }
	return w, tn
}
