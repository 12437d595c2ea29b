package backtest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"crypto-strategy-engine/internal/engine"
	"crypto-strategy-engine/internal/feed"
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/position"
	"crypto-strategy-engine/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoCandles           = errors.New("no candles in range")
	ErrUnsupportedStrategy = errors.New("unsupported strategy")
)

// CandleSource 历史 K 线，按时间升序，允许有缺口
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Candle, error)
}

type Request struct {
	Strategy    service.StrategyConfig
	Start       time.Time
	End         time.Time
	InitialCash float64
	Lot         service.LotConfig
	// Symbols 为 nil 时所有交易对使用 Lot
	Symbols position.SymbolInfo
}

// Run 把历史 K 线逐帧回放给 engine.Instance，与实盘走同一条决策和记账路径。
// 任何取数失败都中止回测，不返回部分结果。
func Run(ctx context.Context, req Request, src CandleSource, logger *zap.Logger) (*model.BacktestResult, error) {
	cfg := req.Strategy
	if !slices.Contains(service.Families, cfg.Family) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, cfg.Family)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("%w: end %s is not after start %s", service.ErrInvalidConfig, req.End, req.Start)
	}
	if req.InitialCash <= 0 {
		return nil, fmt.Errorf("%w: initial cash must be positive", service.ErrInvalidConfig)
	}

	id := uuid.NewString()
	logger = logger.With(zap.String("Backtest", id), zap.String("Strategy", cfg.Family))

	frames, err := LoadFrames(ctx, src, cfg.Symbols(), cfg.Interval, req.Start, req.End)
	if err != nil {
		return nil, err
	}

	instCfg := service.InstanceConfig{
		InitialCash: req.InitialCash,
		Lot:         req.Lot,
		Strategy:    cfg,
	}
	exec := position.NewSimExecutor(cfg.FeeRate, logger)
	inst, err := engine.NewInstance("backtest-"+id[:8], instCfg, exec, req.Symbols, logger)
	if err != nil {
		return nil, err
	}

	result := &model.BacktestResult{
		ID:          id,
		Strategy:    cfg.Family,
		Symbols:     cfg.Symbols(),
		Interval:    cfg.Interval,
		Start:       req.Start,
		End:         req.End,
		Bars:        len(frames),
		InitialCash: req.InitialCash,
		EquityCurve: make([]model.EquityPoint, 0, len(frames)),
	}
	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := inst.Step(ctx, frame)
		if err != nil {
			var rerr *position.RotationError
			if !errors.As(err, &rerr) {
				return nil, fmt.Errorf("bar %s: %w", frame.Time.Format(time.RFC3339), err)
			}
			logger.Warn("Rotation left unreconciled", zap.Error(err))
			result.Unreconciled = append(result.Unreconciled, res.Unreconciled...)
		}
		result.EquityCurve = append(result.EquityCurve, res.Equity)
	}

	status := inst.Status()
	result.Trades = inst.Fills()
	result.FinalBalance = status.Equity
	result.ReturnPct = (status.Equity - req.InitialCash) / req.InitialCash * 100
	result.WinRate = WinRate(result.Trades)
	result.MaxDrawdown = MaxDrawdown(result.EquityCurve)

	logger.Info("Backtest finished",
		zap.Int("Bars", result.Bars),
		zap.Int("Trades", len(result.Trades)),
		zap.Float64("FinalBalance", result.FinalBalance),
		zap.Float64("ReturnPct", result.ReturnPct),
		zap.Float64("MaxDrawdown", result.MaxDrawdown))
	return result, nil
}

// LoadFrames 取齐所有交易对的 K 线并对齐成帧；任一交易对没有数据即失败
func LoadFrames(ctx context.Context, src CandleSource, symbols []string, interval string, start, end time.Time) ([]model.Frame, error) {
	series := make(map[string][]model.Candle, len(symbols))
	for _, sym := range symbols {
		candles, err := fetch(ctx, src, sym, interval, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", sym, err)
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNoCandles, sym, interval)
		}
		series[sym] = candles
	}
	return BuildFrames(series), nil
}

// fetch 20s 周期由 1m K 线展开
func fetch(ctx context.Context, src CandleSource, symbol, interval string, start, end time.Time) ([]model.Candle, error) {
	if interval != "20s" {
		return src.FetchCandles(ctx, symbol, interval, start, end)
	}
	candles, err := src.FetchCandles(ctx, symbol, "1m", start, end)
	if err != nil {
		return nil, err
	}
	return feed.ExpandTo20s(candles, start, end), nil
}

// BuildFrames 所有交易对时间戳的并集按升序排列。
// 某个交易对在某一时刻缺 K 线时沿用上一根的收盘价，第一次出现之前不补。
func BuildFrames(series map[string][]model.Candle) []model.Frame {
	index := make(map[string]map[int64]model.Candle, len(series))
	seen := make(map[int64]time.Time)
	for sym, candles := range series {
		byTime := make(map[int64]model.Candle, len(candles))
		for _, c := range candles {
			key := c.Time.UnixMilli()
			byTime[key] = c
			seen[key] = c.Time
		}
		index[sym] = byTime
	}

	keys := make([]int64, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	symbols := make([]string, 0, len(series))
	for sym := range series {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	last := make(map[string]model.Candle, len(series))
	frames := make([]model.Frame, 0, len(keys))
	for _, k := range keys {
		frame := model.NewFrame(seen[k].UTC())
		for _, sym := range symbols {
			if c, ok := index[sym][k]; ok {
				last[sym] = c
				frame.Candles[sym] = c
			} else if prev, ok := last[sym]; ok {
				frame.Candles[sym] = model.FlatCandle(sym, frame.Time, prev.Close)
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

// MaxDrawdown 相对历史最高净值的最大回撤比例
func MaxDrawdown(curve []model.EquityPoint) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// WinRate 盈利成交数 / 全部成交数
func WinRate(trades []model.Fill) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}
