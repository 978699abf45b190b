package watch

import (
	"context"
	"errors"
	"testing"

	"vigil/internal/gateway/exchange"
	"vigil/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTrailingLongFiresOnceAtTrigger(t *testing.T) {
	gw := new(mockGateway)
	w, tn := newTestWatcher(t, gw)
	o := watchSample(t, w, types.StatusSLTPPlaced) // entry 2500, tp 2700, qty 0.5

	// 75% progress: nothing happens.
	gw.On("GetPrice", mock.Anything, "ETHUSDT").Return(2650.0, nil).Once()
	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))
	gw.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

	// 80% progress: close 80% of the position, move the stop to the midpoint.
	gw.On("GetPrice", mock.Anything, "ETHUSDT").Return(2660.0, nil).Once()
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "ETHUSDT", Side: "LONG", Amount: 0.5},
	}, nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindMarket)).Return(int64(930), nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(900)).Return(nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindStopMarket)).Return(int64(931), nil)

	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))

	got, ok := w.Store().Get(o.OrderID)
	require.True(t, ok)
	assert.True(t, got.TrailingTriggered)
	assert.Equal(t, int64(931), got.SLOrderID)
	assert.Equal(t, 2600.0, got.StopLoss)
	assert.InDelta(t, 0.1, got.Quantity, 1e-9)
	assert.NotEmpty(t, tn.messages())

	// Single shot: a later evaluation is a no-op.
	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))
	gw.AssertNumberOfCalls(t, "PlaceOrder", 2)
	gw.AssertNumberOfCalls(t, "GetPrice", 2)
}

func TestTrailingMarketCloseSizes(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)
	o := watchSample(t, w, types.StatusSLTPPlaced)

	var marketQty, stopQty, stopPrice float64
	gw.On("GetPrice", mock.Anything, "ETHUSDT").Return(2700.0, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "ETHUSDT", Side: "LONG", Amount: 0.5},
	}, nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindMarket)).Run(func(args mock.Arguments) {
		marketQty = args.Get(1).(exchange.OrderSpec).Quantity
	}).Return(int64(930), nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(900)).Return(nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindStopMarket)).Run(func(args mock.Arguments) {
		spec := args.Get(1).(exchange.OrderSpec)
		stopQty = spec.Quantity
		stopPrice = spec.StopPrice
	}).Return(int64(931), nil)

	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))

	assert.InDelta(t, 0.4, marketQty, 1e-9)
	assert.InDelta(t, 0.1, stopQty, 1e-9)
	assert.Equal(t, 2600.0, stopPrice)
}

func TestTrailingShortDirection(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)
	o := types.WatchedOrder{
		Symbol:       "SOLUSDT",
		OrderID:      202,
		Side:         types.SideSell,
		PositionSide: types.PositionShort,
		Quantity:     2,
		Price:        100,
		SignalType:   types.SignalShort,
		StopLoss:     110,
		TakeProfit:   80,
		Timeframe:    "1h",
		Status:       types.StatusSLTPPlaced,
		SLOrderID:    940,
		TPOrderID:    941,
	}
	require.NoError(t, w.Watch(o))

	// Halfway down: no action yet.
	gw.On("GetPrice", mock.Anything, "SOLUSDT").Return(90.0, nil).Once()
	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))
	gw.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)

	// 80% of the way to the take-profit: fire. New stop at the midpoint, 90.
	var stopPrice float64
	gw.On("GetPrice", mock.Anything, "SOLUSDT").Return(84.0, nil).Once()
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "SOLUSDT", Side: "SHORT", Amount: -2},
	}, nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindMarket)).Return(int64(950), nil)
	gw.On("CancelOrder", mock.Anything, "SOLUSDT", int64(940)).Return(nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindStopMarket)).Run(func(args mock.Arguments) {
		stopPrice = args.Get(1).(exchange.OrderSpec).StopPrice
	}).Return(int64(951), nil)

	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))

	got, ok := w.Store().Get(o.OrderID)
	require.True(t, ok)
	assert.True(t, got.TrailingTriggered)
	assert.Equal(t, 90.0, stopPrice)
	assert.Equal(t, 90.0, got.StopLoss)
	assert.InDelta(t, 0.4, got.Quantity, 1e-9)
}

func TestTrailingPartialCloseFailureRetriesNextCycle(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)
	o := watchSample(t, w, types.StatusSLTPPlaced)

	gw.On("GetPrice", mock.Anything, "ETHUSDT").Return(2660.0, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "ETHUSDT", Side: "LONG", Amount: 0.5},
	}, nil)
	gw.On("PlaceOrder", mock.Anything, specOfKind(exchange.KindMarket)).Return(int64(0), errors.New("insufficient margin"))

	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))

	got, ok := w.Store().Get(o.OrderID)
	require.True(t, ok)
	assert.False(t, got.TrailingTriggered)
	assert.Equal(t, int64(900), got.SLOrderID)
	assert.Equal(t, 0.5, got.Quantity)
}

func TestTrailingSkipsUnprotectedOrders(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)
	o := watchSample(t, w, types.StatusPending)

	require.NoError(t, w.EvaluateTrailing(context.Background(), o.OrderID))
	gw.AssertNotCalled(t, "GetPrice", mock.Anything, mock.Anything)
}
