package watch

import (
	"context"
	"errors"
	"testing"
	"time"

	"vigil/internal/gateway/exchange"
	"vigil/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func expiredAt(t time.Time) *time.Time { return &t }

func TestSweepExpiryCancelsPendingPastBoundary(t *testing.T) {
	gw := new(mockGateway)
	w, tn := newTestWatcher(t, gw)

	o := sampleOrder(301)
	o.ExpiresAt = expiredAt(fixedNow.Add(-time.Minute))
	require.NoError(t, w.Store().Add(o))

	gw.On("GetOrder", mock.Anything, "ETHUSDT", int64(301)).Return(&exchange.Order{State: exchange.StateNew}, nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(301)).Return(nil)

	w.SweepExpiry(context.Background())

	_, ok := w.Store().Get(301)
	assert.False(t, ok)
	require.NotEmpty(t, tn.messages())
	assert.Contains(t, tn.messages()[0], "expired")
	assert.NotContains(t, tn.messages()[0], "UNPROTECTED")
}

func TestSweepExpiryFlagsPartialFill(t *testing.T) {
	gw := new(mockGateway)
	w, tn := newTestWatcher(t, gw)

	o := sampleOrder(306)
	o.ExpiresAt = expiredAt(fixedNow.Add(-time.Minute))
	require.NoError(t, w.Store().Add(o))

	gw.On("GetOrder", mock.Anything, "ETHUSDT", int64(306)).
		Return(&exchange.Order{State: exchange.StatePartiallyFilled, ExecutedQty: 0.2}, nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(306)).Return(nil)

	w.SweepExpiry(context.Background())

	// The remainder is cancelled, but the executed slice is now an open
	// position nothing protects; the operator must hear about it.
	_, ok := w.Store().Get(306)
	assert.False(t, ok)
	require.NotEmpty(t, tn.messages())
	assert.Contains(t, tn.messages()[0], "UNPROTECTED")
	assert.Contains(t, tn.messages()[0], "0.2")
}

func TestSweepExpiryLeavesProtectedPositions(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	o := sampleOrder(302)
	o.Status = types.StatusSLTPPlaced
	o.SLOrderID = 900
	o.TPOrderID = 901
	o.ExpiresAt = expiredAt(fixedNow.Add(-time.Hour))
	require.NoError(t, w.Store().Add(o))

	w.SweepExpiry(context.Background())

	_, ok := w.Store().Get(302)
	assert.True(t, ok)
	gw.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepExpiryCancelsPinnedErrorOrders(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	o := sampleOrder(303)
	o.Status = types.StatusSLTPError
	o.SLOrderID = 900
	o.ExpiresAt = expiredAt(fixedNow.Add(-time.Minute))
	require.NoError(t, w.Store().Add(o))

	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(303)).Return(nil)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(900)).Return(nil)

	w.SweepExpiry(context.Background())

	_, ok := w.Store().Get(303)
	assert.False(t, ok)
	gw.AssertCalled(t, "CancelOrder", mock.Anything, "ETHUSDT", int64(900))
}

func TestSweepExpiryKeepsOrderWhenCancelFails(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	o := sampleOrder(304)
	o.ExpiresAt = expiredAt(fixedNow.Add(-time.Minute))
	require.NoError(t, w.Store().Add(o))

	gw.On("GetOrder", mock.Anything, "ETHUSDT", int64(304)).Return(nil, exchange.ErrUnavailable)
	gw.On("CancelOrder", mock.Anything, "ETHUSDT", int64(304)).Return(errors.New("timeout"))

	w.SweepExpiry(context.Background())

	// Cancel must land before the order leaves tracking.
	_, ok := w.Store().Get(304)
	assert.True(t, ok)
}

func TestSweepExpirySkipsOrdersWithoutDeadline(t *testing.T) {
	gw := new(mockGateway)
	w, _ := newTestWatcher(t, gw)

	o := sampleOrder(305)
	o.ExpiresAt = nil
	require.NoError(t, w.Store().Add(o))

	w.SweepExpiry(context.Background())

	_, ok := w.Store().Get(305)
	assert.True(t, ok)
}
