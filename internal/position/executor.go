package position

import (
	"context"
	"fmt"
	"sync"

	"crypto-strategy-engine/internal/model"

	"go.uber.org/zap"
)

// Executor 是交易执行器的通用接口，负责与交易所通信。
// 返回 nil 报告或错误都视为没有成交。
type Executor interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (*model.FillReport, error)
}

// PriceMarker 需要最新价格的执行器 (模拟撮合)
type PriceMarker interface {
	MarkPrices(prices map[string]float64)
}

// SimExecutor 按最新价格全额成交的模拟执行器，手续费 = 成交额 * FeeRate
type SimExecutor struct {
	feeRate float64
	logger  *zap.Logger

	mu     sync.RWMutex
	prices map[string]float64
}

func NewSimExecutor(feeRate float64, logger *zap.Logger) *SimExecutor {
	return &SimExecutor{
		feeRate: feeRate,
		logger:  logger.With(zap.String("Executor", "sim")),
		prices:  make(map[string]float64),
	}
}

// MarkPrices 维护最新的价格供下单使用
func (e *SimExecutor) MarkPrices(prices map[string]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sym, p := range prices {
		if p > 0 {
			e.prices[sym] = p
		}
	}
}

func (e *SimExecutor) SetFeeRate(feeRate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeRate = feeRate
}

func (e *SimExecutor) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty float64) (*model.FillReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %v", ErrOrderRejected, qty)
	}

	e.mu.RLock()
	price, ok := e.prices[symbol]
	feeRate := e.feeRate
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	quote := qty * price
	report := &model.FillReport{
		FilledQty:   qty,
		FilledQuote: quote,
		Fee:         quote * feeRate,
	}
	e.logger.Debug("Sim order filled",
		zap.String("Symbol", symbol),
		zap.String("Side", string(side)),
		zap.Float64("Qty", qty),
		zap.Float64("Price", price),
		zap.Float64("Fee", report.Fee))
	return report, nil
}
