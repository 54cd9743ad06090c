package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NormalizeQuantity 把数量向下取整到步长（保守方向，避免超用保证金），
// 并校验最小数量与最小名义价值。
func NormalizeQuantity(size, price float64, r Rules) (float64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("%w: size %.8f", ErrInvalidSize, size)
	}
	q := decimal.NewFromFloat(size)
	if r.StepSize > 0 {
		step := decimal.NewFromFloat(r.StepSize)
		q = q.Div(step).Floor().Mul(step)
	}
	if q.Sign() <= 0 {
		return 0, fmt.Errorf("%w: %.8f below step %.8f", ErrInvalidSize, size, r.StepSize)
	}
	if r.MinQty > 0 && q.LessThan(decimal.NewFromFloat(r.MinQty)) {
		return 0, fmt.Errorf("%w: %s below min qty %.8f", ErrInvalidSize, q, r.MinQty)
	}
	if r.MinNotional > 0 && price > 0 {
		notional := q.Mul(decimal.NewFromFloat(price))
		if notional.LessThan(decimal.NewFromFloat(r.MinNotional)) {
			return 0, fmt.Errorf("%w: notional %s below min %.2f", ErrInvalidSize, notional.StringFixed(2), r.MinNotional)
		}
	}
	f, _ := q.Float64()
	return f, nil
}

// FormatQuantity 按步长的小数位输出字符串，供交易所 API 使用。
func FormatQuantity(size float64, step float64) string {
	d := decimal.NewFromFloat(size)
	if step <= 0 {
		return d.String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return d.Truncate(places).StringFixed(places)
}

// SizeFromMargin 按 可用保证金 × 比例 × 杠杆 / 价格 计算名义数量（未取整）。
func SizeFromMargin(available, pct float64, leverage int, price float64) float64 {
	if available <= 0 || pct <= 0 || leverage <= 0 || price <= 0 {
		return 0
	}
	notional := decimal.NewFromFloat(available).
		Mul(decimal.NewFromFloat(pct)).
		Mul(decimal.NewFromInt(int64(leverage)))
	f, _ := notional.Div(decimal.NewFromFloat(price)).Float64()
	return f
}
