package watch

import (
	"context"
	"testing"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRecoverRebuildsUntrackedEntryOrder(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{
			Symbol:     "ETHUSDT",
			OrderID:    501,
			Side:       "BUY",
			Kind:       exchange.KindLimit,
			State:      exchange.StateNew,
			Quantity:   0.5,
			Price:      2000,
			UpdateTime: fixedNow.Add(-time.Hour).UnixMilli(),
		},
		// Protective order types are never treated as entries.
		{
			Symbol:  "ETHUSDT",
			OrderID: 502,
			Side:    "SELL",
			Kind:    exchange.KindStopMarket,
			State:   exchange.StateNew,
		},
	}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{
		{Symbol: "BTCUSDT", Side: "LONG", Amount: 0.1},
	}, nil)

	report, err := w.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.LoadedFromDisk)
	assert.Equal(t, 1, report.Rebuilt)
	assert.Equal(t, 1, report.OpenPositions)
	assert.Equal(t, []string{"ETHUSDT"}, report.RebuiltSymbols)

	got, ok := w.Store().Get(501)
	require.True(t, ok)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, types.SignalLong, got.SignalType)
	assert.True(t, got.Recovered)
	assert.Equal(t, "4h", got.Timeframe)
	assert.InDelta(t, 1940, got.StopLoss, 1e-9)   // -3%
	assert.InDelta(t, 2100, got.TakeProfit, 1e-9) // +5%
	require.NotNil(t, got.ExpiresAt)

	_, ok = w.Store().Get(502)
	assert.False(t, ok)
}

func TestRecoverShortEntryMirrorsHeuristics(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{
			Symbol:   "SOLUSDT",
			OrderID:  510,
			Side:     "SELL",
			Kind:     exchange.KindLimit,
			State:    exchange.StateNew,
			Quantity: 2,
			Price:    100,
		},
	}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{}, nil)

	_, err := w.Recover(context.Background())
	require.NoError(t, err)

	got, ok := w.Store().Get(510)
	require.True(t, ok)
	assert.Equal(t, types.SignalShort, got.SignalType)
	assert.Equal(t, types.PositionShort, got.PositionSide)
	assert.InDelta(t, 103, got.StopLoss, 1e-9)
	assert.InDelta(t, 95, got.TakeProfit, 1e-9)
}

func TestRecoverLeavesTrackedOrdersAlone(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	tracked := sampleOrder(520)
	tracked.StopLoss = 1111 // signal levels, not heuristics
	require.NoError(t, w.Store().Add(tracked))

	gw.On("ListOpenOrders", mock.Anything, "").Return([]exchange.Order{
		{
			Symbol:  "ETHUSDT",
			OrderID: 520,
			Side:    "BUY",
			Kind:    exchange.KindLimit,
			State:   exchange.StateNew,
			Price:   2500,
		},
	}, nil)
	gw.On("ListOpenPositions", mock.Anything).Return([]exchange.Position{}, nil)

	report, err := w.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.LoadedFromDisk)
	assert.Equal(t, 0, report.Rebuilt)

	got, _ := w.Store().Get(520)
	assert.Equal(t, 1111.0, got.StopLoss)
	assert.False(t, got.Recovered)
}

func TestRecoverAbortsWhenExchangeUnavailable(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	gw.On("ListOpenOrders", mock.Anything, "").Return(nil, exchange.ErrUnavailable)

	_, err := w.Recover(context.Background())
	assert.Error(t, err)
}
