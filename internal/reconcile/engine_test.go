package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/types"
	"vigil/internal/watch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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

func protectedOrder(id int64) types.WatchedOrder {
	return types.WatchedOrder{
		Symbol:       "ETHUSDT",
		OrderID:      id,
		Side:         types.SideBuy,
		PositionSide: types.PositionLong,
		Quantity:     0.5,
		Price:        2500,
		SignalType:   types.SignalLong,
		StopLoss:     2400,
		TakeProfit:   2700,
		Timeframe:    "4h",
		Status:       types.StatusSLTPPlaced,
		CreatedAt:    time.Now().UTC(),
		SLOrderID:    900,
		TPOrderID:    901,
	}
}

func newTestEngine(t *testing.T, gw exchange.Gateway) (*Engine, *watch.Store) {
	t.Helper()
	store := watch.NewStore(filepath.Join(t.TempDir(), "state.json"))
	watcher := watch.NewWatcher(store, gw, nil, watch.Options{})
	return NewEngine(watcher, gw, nil, nil), store
}

func TestEngineCleanPassIsSynchronized(t *testing.T) {
	gw := new(mockGateway)
	e, store := newTestEngine(t, gw)
	require.NoError(t, store.Add(protectedOrder(101)))

	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{Symbol: "ETHUSDT", OrderID: 900, Kind: exchange.KindStopMarket, State: exchange.StateNew},
		{Symbol: "ETHUSDT", OrderID: 901, Kind: exchange.KindTakeProfit, State: exchange.StateNew},
	}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "ETHUSDT", Side: "LONG", Amount: 0.5},
	}, nil)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Synchronized)
	assert.Equal(t, 1, result.Checked)
	assert.Zero(t, result.ActionsTaken())
	assert.Empty(t, result.Orphans())
}

func TestEngineRemovesOrderWhenPositionClosedExternally(t *testing.T) {
	gw := new(mockGateway)
	e, store := newTestEngine(t, gw)
	require.NoError(t, store.Add(protectedOrder(102)))

	// Position gone, protective orders still resting.
	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{Symbol: "ETHUSDT", OrderID: 900, Kind: exchange.KindStopMarket, State: exchange.StateNew},
		{Symbol: "ETHUSDT", OrderID: 901, Kind: exchange.KindTakeProfit, State: exchange.StateNew},
	}, nil).Once()
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{}, nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(900)).Return(nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(901)).Return(nil)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Synchronized)
	assert.Equal(t, 3, result.ActionsTaken()) // two cancels plus the removal
	assert.Zero(t, result.Failed)

	_, ok := store.Get(102)
	assert.False(t, ok)

	// The corrective pass converged: a second run finds nothing to do.
	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{}, nil)
	again, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, again.Synchronized)
	assert.Zero(t, again.ActionsTaken())
}

func TestEngineRemovesUntraceablePending(t *testing.T) {
	gw := new(mockGateway)
	e, store := newTestEngine(t, gw)
	pending := protectedOrder(103)
	pending.Status = types.StatusPending
	pending.SLOrderID = 0
	pending.TPOrderID = 0
	require.NoError(t, store.Add(pending))

	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{}, nil)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ActionsTaken())
	assert.False(t, result.Synchronized)

	_, ok := store.Get(103)
	assert.False(t, ok)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionRemoveOrder, result.Actions[0].Kind)
	assert.True(t, result.Actions[0].Critical)
}

func TestEngineRestoresMissingStopLoss(t *testing.T) {
	gw := new(mockGateway)
	e, store := newTestEngine(t, gw)
	require.NoError(t, store.Add(protectedOrder(104)))

	// Take-profit resting, stop-loss vanished, position still open.
	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{Symbol: "ETHUSDT", OrderID: 901, Kind: exchange.KindTakeProfit, State: exchange.StateNew},
	}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "ETHUSDT", Side: "LONG", Amount: 0.5},
	}, nil)
	gw.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(spec exchange.OrderSpec) bool {
		return spec.Kind == exchange.KindStopMarket
	})).Return(int64(910), nil)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ActionsTaken())
	assert.Zero(t, result.Failed)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionRestoreProtection, result.Actions[0].Kind)

	got, ok := store.Get(104)
	require.True(t, ok)
	assert.Equal(t, int64(910), got.SLOrderID)
	assert.Equal(t, int64(901), got.TPOrderID)
}

func TestEngineReportsOrphansWithoutCancelling(t *testing.T) {
	gw := new(mockGateway)
	e, store := newTestEngine(t, gw)
	require.NoError(t, store.Add(protectedOrder(105)))

	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{Symbol: "ETHUSDT", OrderID: 900, Kind: exchange.KindStopMarket, State: exchange.StateNew},
		{Symbol: "ETHUSDT", OrderID: 901, Kind: exchange.KindTakeProfit, State: exchange.StateNew},
		// Placed by hand, never tracked.
		{Symbol: "BTCUSDT", OrderID: 777, Kind: exchange.KindLimit, State: exchange.StateNew, Quantity: 0.01},
	}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "ETHUSDT", Side: "LONG", Amount: 0.5},
	}, nil)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Orphans(), 1)
	assert.Equal(t, int64(777), result.Orphans()[0].OrderID)
	assert.Zero(t, result.ActionsTaken())
	assert.True(t, result.Synchronized)
	gw.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngineAbortsWhenTruthUnavailable(t *testing.T) {
	gw := new(mockGateway)
	e, store := newTestEngine(t, gw)
	require.NoError(t, store.Add(protectedOrder(106)))

	gw.On("ListOpenOrders", mock.Anything, "").Return(nil, exchange.ErrUnavailable)

	_, err := e.Run(context.Background())
	assert.Error(t, err)

	// Local state untouched.
	_, ok := store.Get(106)
	assert.True(t, ok)
}
