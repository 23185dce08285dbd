package types

import "github.com/shopspring/decimal"

// PriceToTicks quantizes a float price to the integer tick count the
// gateway's binary protocol carries on the wire, at the given scale.
// Quantization goes through shopspring/decimal so that values like
// 100.005 round the same way on every platform instead of drifting
// with float64 rounding.
func PriceToTicks(price float64, scale int64) int64 {
	d := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(scale))
	return d.Round(0).IntPart()
}

// TicksToPrice is the inverse of PriceToTicks.
func TicksToPrice(ticks int64, scale int64) float64 {
	if scale == 0 {
		return 0
	}
	d := decimal.NewFromInt(ticks).Div(decimal.NewFromInt(scale))
	f, _ := d.Float64()
	return f
}
