package backtest

import (
	"context"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

// PairReport 均值回归交易对的历史体检和参数建议
type PairReport struct {
	AssetA    string                      `json:"asset_a"`
	AssetB    string                      `json:"asset_b"`
	Samples   int                         `json:"samples"`
	Good      bool                        `json:"good"`
	RatioStd  float64                     `json:"ratio_std"`
	Suggested service.MeanReversionConfig `json:"suggested"`
}

// AnalyzePair 用 [start, end] 内的价格比值评估交易对，并给出窗口和阈值建议
func AnalyzePair(ctx context.Context, cfg service.StrategyConfig, start, end time.Time, src CandleSource) (*PairReport, error) {
	if cfg.Family != service.FamilyMeanReversion {
		return nil, fmt.Errorf("%w: pair analysis needs %s, got %q", ErrUnsupportedStrategy, service.FamilyMeanReversion, cfg.Family)
	}
	symbols := cfg.Symbols()
	frames, err := LoadFrames(ctx, src, symbols, cfg.Interval, start, end)
	if err != nil {
		return nil, err
	}

	series := alignedCloses(frames, symbols)
	a, b := series[symbols[0]], series[symbols[1]]
	ratios := make([]float64, 0, len(a))
	for i := range a {
		if b[i] > 0 {
			ratios = append(ratios, a[i]/b[i])
		}
	}

	good, std := strategy.EvaluatePairHealth(ratios, cfg.MeanReversion.Window)
	return &PairReport{
		AssetA:    cfg.MeanReversion.AssetA,
		AssetB:    cfg.MeanReversion.AssetB,
		Samples:   len(ratios),
		Good:      good,
		RatioStd:  std,
		Suggested: strategy.SuggestMeanReversionConfig(ratios, cfg.MeanReversion),
	}, nil
}

// AnalyzeAmplification 候选币相对基准的 beta / 相关性排名
func AnalyzeAmplification(ctx context.Context, cfg service.StrategyConfig, start, end time.Time, src CandleSource) (*strategy.AmplificationSummary, error) {
	if cfg.Family != service.FamilyAmplification {
		return nil, fmt.Errorf("%w: amplification analysis needs %s, got %q", ErrUnsupportedStrategy, service.FamilyAmplification, cfg.Family)
	}
	symbols := cfg.Symbols()
	frames, err := LoadFrames(ctx, src, symbols, cfg.Interval, start, end)
	if err != nil {
		return nil, err
	}

	series := alignedCloses(frames, symbols)
	base := series[cfg.Amplification.Base]
	alts := make(map[string][]float64, len(symbols)-1)
	for _, sym := range symbols {
		if sym != cfg.Amplification.Base {
			alts[sym] = series[sym]
		}
	}
	summary := strategy.SummarizeAmplification(base, alts, cfg.Amplification)
	return &summary, nil
}

// AnalyzeIndicators 区间末尾每个交易对的指标快照
func AnalyzeIndicators(ctx context.Context, cfg service.StrategyConfig, start, end time.Time, src CandleSource, logger *zap.Logger) (map[string]*ta.TAData, error) {
	symbols := cfg.Symbols()
	frames, err := LoadFrames(ctx, src, symbols, cfg.Interval, start, end)
	if err != nil {
		return nil, err
	}

	calc := ta.NewTACalculator(logger)
	out := make(map[string]*ta.TAData, len(symbols))
	for _, sym := range symbols {
		var closes, highs, lows []float64
		for _, f := range frames {
			c, ok := f.Candles[sym]
			if !ok {
				continue
			}
			closes = append(closes, c.Close)
			highs = append(highs, c.High)
			lows = append(lows, c.Low)
		}
		data, err := calc.Calculate(closes, highs, lows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sym, err)
		}
		out[sym] = data
	}
	return out, nil
}

// alignedCloses 只保留所有交易对都有价格的帧
func alignedCloses(frames []model.Frame, symbols []string) map[string][]float64 {
	out := make(map[string][]float64, len(symbols))
	for _, f := range frames {
		complete := true
		for _, sym := range symbols {
			if _, ok := f.Price(sym); !ok {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		for _, sym := range symbols {
			p, _ := f.Price(sym)
			out[sym] = append(out[sym], p)
		}
	}
	return out
}
