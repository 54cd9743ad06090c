package exchange

import "context"

// Venue 是单个交易账户的能力集。symbol 均为内部写法 BASE/QUOTE。
type Venue interface {
	Name() string

	OpenLong(ctx context.Context, req OrderRequest) (OrderResult, error)
	OpenShort(ctx context.Context, req OrderRequest) (OrderResult, error)
	// CloseLong/CloseShort 的 req.Size 为 0 表示全部平仓。
	CloseLong(ctx context.Context, req OrderRequest) (OrderResult, error)
	CloseShort(ctx context.Context, req OrderRequest) (OrderResult, error)

	// CancelAllOrders 在没有挂单时也必须返回成功。
	CancelAllOrders(ctx context.Context, symbol string) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginMode(ctx context.Context, symbol string, mode MarginMode) error

	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]Position, error)

	Rules(ctx context.Context, symbol string) (Rules, error)
}

// FindPosition 在持仓列表里找 symbol 的非零持仓。
func FindPosition(positions []Position, symbol string) (Position, bool) {
	for _, p := range positions {
		if p.Symbol == symbol && p.Size > 0 {
			return p, true
		}
	}
	return Position{}, false
}
