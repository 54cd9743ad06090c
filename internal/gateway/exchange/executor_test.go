package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func fastExecutor(v Venue, retries int) *Executor {
	return NewExecutor(v, time.Second, retries, WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}))
}

var btcRules = Rules{StepSize: 0.001, MinQty: 0.001, MinNotional: 5}

func TestExecuteOpenLongSetsLeverageAndRoundsDown(t *testing.T) {
	v := new(mockVenue)
	v.On("Rules", mock.Anything, "BTC/USDT").Return(btcRules, nil)
	v.On("SetMarginMode", mock.Anything, "BTC/USDT", MarginCross).Return(nil)
	v.On("SetLeverage", mock.Anything, "BTC/USDT", 5).Return(nil)
	v.On("CancelAllOrders", mock.Anything, "BTC/USDT").Return(nil)
	v.On("OpenLong", mock.Anything, mock.MatchedBy(func(r OrderRequest) bool {
		return r.ClientID == "plan-1" && r.Size == 0.012 && r.Leverage == 5
	})).Return(OrderResult{OrderID: "42", FillPrice: 50010}, nil)

	res := fastExecutor(v, 3).Execute(context.Background(), OrderPlan{
		ID: "plan-1", Kind: PlanOpenLong, Symbol: "BTC/USDT", Size: 0.01299,
		Leverage: 5, MarginMode: MarginCross, RefPrice: 50000,
	})
	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "42", res.OrderID)
	assert.Equal(t, 50010.0, res.FillPrice)
	assert.Equal(t, 0.012, res.FilledSize)
	v.AssertExpectations(t)
}

func TestExecuteRetriesTransientOnly(t *testing.T) {
	v := new(mockVenue)
	v.On("CancelAllOrders", mock.Anything, "ETH/USDT").Return(NewError(ErrTransient, "mock", 503, "busy", nil)).Twice()
	v.On("CancelAllOrders", mock.Anything, "ETH/USDT").Return(nil).Once()

	res := fastExecutor(v, 3).Execute(context.Background(), OrderPlan{Kind: PlanCancelAll, Symbol: "ETH/USDT"})
	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)
	v.AssertNumberOfCalls(t, "CancelAllOrders", 3)
}

func TestExecuteRetryBudgetExhausted(t *testing.T) {
	v := new(mockVenue)
	v.On("CancelAllOrders", mock.Anything, "ETH/USDT").Return(NewError(ErrTransient, "mock", 0, "timeout", nil))

	res := fastExecutor(v, 2).Execute(context.Background(), OrderPlan{Kind: PlanCancelAll, Symbol: "ETH/USDT"})
	assert.ErrorIs(t, res.Err, ErrTransient)
	assert.False(t, res.Accepted)
	v.AssertNumberOfCalls(t, "CancelAllOrders", 3)
}

func TestExecuteBusinessRejectionNotRetried(t *testing.T) {
	v := new(mockVenue)
	v.On("Rules", mock.Anything, "SOL/USDT").Return(Rules{StepSize: 0.1}, nil)
	v.On("SetLeverage", mock.Anything, "SOL/USDT", 3).Return(nil)
	v.On("CancelAllOrders", mock.Anything, "SOL/USDT").Return(nil)
	v.On("OpenShort", mock.Anything, mock.Anything).
		Return(OrderResult{}, NewError(ErrRejected, "mock", -2019, "Margin is insufficient.", nil))

	res := fastExecutor(v, 3).Execute(context.Background(), OrderPlan{
		ID: "p2", Kind: PlanOpenShort, Symbol: "SOL/USDT", Size: 10, Leverage: 3, RefPrice: 150,
	})
	assert.ErrorIs(t, res.Err, ErrRejected)
	v.AssertNumberOfCalls(t, "OpenShort", 1)
}

func TestExecuteInvalidSizeNeverSubmits(t *testing.T) {
	v := new(mockVenue)
	v.On("Rules", mock.Anything, "BTC/USDT").Return(btcRules, nil)

	res := fastExecutor(v, 3).Execute(context.Background(), OrderPlan{
		ID: "p3", Kind: PlanOpenLong, Symbol: "BTC/USDT", Size: 0.0009, Leverage: 5, RefPrice: 50000,
	})
	assert.ErrorIs(t, res.Err, ErrInvalidSize)
	assert.ErrorIs(t, res.Err, ErrRejected)
	v.AssertNotCalled(t, "OpenLong", mock.Anything, mock.Anything)
}

func TestExecuteDuplicateClientIDIsAccepted(t *testing.T) {
	v := new(mockVenue)
	v.On("CloseLong", mock.Anything, mock.Anything).Return(OrderResult{}, NewError(ErrTransient, "mock", 0, "timeout", nil)).Once()
	v.On("CloseLong", mock.Anything, mock.Anything).Return(OrderResult{}, NewError(ErrDuplicate, "mock", -4116, "ClientOrderId is duplicated.", nil)).Once()

	res := fastExecutor(v, 3).Execute(context.Background(), OrderPlan{ID: "p4", Kind: PlanCloseLong, Symbol: "BTC/USDT", RefPrice: 100})
	require.NoError(t, res.Err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "p4", res.OrderID)
}

func TestFatalErrorPropagates(t *testing.T) {
	v := new(mockVenue)
	v.On("CancelAllOrders", mock.Anything, "BTC/USDT").Return(NewError(ErrFatal, "mock", -2015, "Invalid API-key", nil))
	res := fastExecutor(v, 3).Execute(context.Background(), OrderPlan{Kind: PlanCancelAll, Symbol: "BTC/USDT"})
	assert.True(t, IsFatal(res.Err))
	v.AssertNumberOfCalls(t, "CancelAllOrders", 1)
}

func TestOpenCancelsBeforeSubmitting(t *testing.T) {
	v := new(mockVenue)
	v.On("Rules", mock.Anything, "BTC/USDT").Return(btcRules, nil)
	v.On("SetLeverage", mock.Anything, "BTC/USDT", 10).Return(nil)
	v.On("CancelAllOrders", mock.Anything, "BTC/USDT").Return(NewError(ErrRejected, "mock", -1, "boom", nil))

	res := fastExecutor(v, 1).Execute(context.Background(), OrderPlan{
		ID: "p5", Kind: PlanOpenLong, Symbol: "BTC/USDT", Size: 0.01, Leverage: 10, RefPrice: 60000,
	})
	assert.ErrorIs(t, res.Err, ErrRejected)
	v.AssertNotCalled(t, "OpenLong", mock.Anything, mock.Anything)

	var order []string
	for _, c := range v.Calls {
		order = append(order, c.Method)
	}
	assert.Equal(t, []string{"Rules", "SetLeverage", "CancelAllOrders"}, order)
}
