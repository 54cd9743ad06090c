package exchange

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockVenue struct {
	mock.Mock
}

func (m *mockVenue) Name() string { return "mock" }

func (m *mockVenue) OpenLong(ctx context.Context, req OrderRequest) (OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderResult), args.Error(1)
}

func (m *mockVenue) OpenShort(ctx context.Context, req OrderRequest) (OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderResult), args.Error(1)
}

func (m *mockVenue) CloseLong(ctx context.Context, req OrderRequest) (OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderResult), args.Error(1)
}

func (m *mockVenue) CloseShort(ctx context.Context, req OrderRequest) (OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(OrderResult), args.Error(1)
}

func (m *mockVenue) CancelAllOrders(ctx context.Context, symbol string) error {
	return m.Called(ctx, symbol).Error(0)
}

func (m *mockVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return m.Called(ctx, symbol, leverage).Error(0)
}

func (m *mockVenue) SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error {
	return m.Called(ctx, symbol, mode).Error(0)
}

func (m *mockVenue) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockVenue) GetBalance(ctx context.Context) (Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(Balance), args.Error(1)
}

func (m *mockVenue) GetPositions(ctx context.Context) ([]Position, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Position), args.Error(1)
}

func (m *mockVenue) Rules(ctx context.Context, symbol string) (Rules, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(Rules), args.Error(1)
}
