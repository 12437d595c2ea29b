package feed

import (
	"fmt"
	"math"
	"sync"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"go.uber.org/zap"
)

// CandleAggregator 根据 Ticker 聚合特定周期和 Symbol 的 K 线。
// Ticker 时间戳决定 K 线归属，不依赖本地定时器。
type CandleAggregator struct {
	mu       sync.Mutex
	symbol   string
	interval time.Duration
	current  model.Candle        // 正在构建的 K 线，Time 为零表示未初始化
	out      chan<- model.Candle // 已完成 K 线的输出，可为 nil
	logger   *zap.Logger
}

func NewCandleAggregator(symbol, interval string, out chan<- model.Candle, logger *zap.Logger) (*CandleAggregator, error) {
	d, err := service.ParseIntervalDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("aggregator %s: %w", symbol, err)
	}
	return &CandleAggregator{
		symbol:   symbol,
		interval: d,
		out:      out,
		logger:   logger,
	}, nil
}

// Process 把 Ticker 聚合进当前 K 线，跨周期时先输出已完成的 K 线
func (agg *CandleAggregator) Process(ticker model.Ticker) {
	if ticker.Symbol != agg.symbol || ticker.Price <= 0 {
		return
	}

	agg.mu.Lock()
	defer agg.mu.Unlock()

	start := time.UnixMilli(ticker.Timestamp).UTC().Truncate(agg.interval)
	if !agg.current.Time.IsZero() && start.Before(agg.current.Time) {
		// 迟到的 Ticker，所属 K 线已经发出
		return
	}

	if !agg.current.Time.IsZero() && start.After(agg.current.Time) {
		completed := agg.current
		agg.current = model.Candle{
			Symbol: agg.symbol,
			Time:   start,
			Open:   completed.Close, // 新 K 线的开盘价取上一根 K 线的收盘价
			High:   math.Max(completed.Close, ticker.Price),
			Low:    math.Min(completed.Close, ticker.Price),
		}
		if agg.out != nil {
			select {
			case agg.out <- completed:
			default:
				agg.logger.Warn("Candle output channel full! Dropping completed candle.",
					zap.String("Symbol", agg.symbol), zap.Time("Start", completed.Time))
			}
		}
	}

	if agg.current.Time.IsZero() {
		agg.current = model.Candle{
			Symbol: agg.symbol,
			Time:   start,
			Open:   ticker.Price,
			High:   ticker.Price,
			Low:    ticker.Price,
		}
	}

	agg.current.Close = ticker.Price
	agg.current.High = math.Max(agg.current.High, ticker.Price)
	agg.current.Low = math.Min(agg.current.Low, ticker.Price)
	agg.current.Volume += ticker.Volume
}

// Current 正在构建的 K 线
func (agg *CandleAggregator) Current() (model.Candle, bool) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.current, !agg.current.Time.IsZero()
}
