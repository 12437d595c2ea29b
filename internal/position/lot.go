package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrQuantityTooSmall = errors.New("quantity below lot size")
	ErrMinNotional      = errors.New("notional below minimum")
	ErrOrderRejected    = errors.New("order rejected")
	ErrNoPosition       = errors.New("no open position")
	ErrNoPrice          = errors.New("no price")
)

// LotSize 交易所的交易对精度规则
type LotSize struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// SymbolInfo 交易对元数据
type SymbolInfo interface {
	LotSize(symbol string) LotSize
}

// StaticSymbols 固定配置的元数据，未覆盖的交易对使用 Default
type StaticSymbols struct {
	Default   LotSize
	Overrides map[string]LotSize
}

func (s StaticSymbols) LotSize(symbol string) LotSize {
	if lot, ok := s.Overrides[symbol]; ok {
		return lot
	}
	return s.Default
}

// Quantize 用十进制运算把数量向下取整到 StepSize 的整数倍；低于 MinQty 返回 0
func Quantize(qty float64, lot LotSize) float64 {
	if qty <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(qty)
	if lot.StepSize > 0 {
		step := decimal.NewFromFloat(lot.StepSize)
		q = q.Div(step).Floor().Mul(step)
	}
	if q.LessThanOrEqual(decimal.Zero) || q.LessThan(decimal.NewFromFloat(lot.MinQty)) {
		return 0
	}
	return q.InexactFloat64()
}

// CheckNotional qty * price 低于 MinNotional 时返回 ErrMinNotional
func CheckNotional(qty, price float64, lot LotSize) error {
	if lot.MinNotional <= 0 {
		return nil
	}
	notional := decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(price))
	if notional.LessThan(decimal.NewFromFloat(lot.MinNotional)) {
		return fmt.Errorf("%w: %s < %v", ErrMinNotional, notional.StringFixed(8), lot.MinNotional)
	}
	return nil
}
