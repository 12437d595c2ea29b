package strategy

import (
	"math"
	"sort"

	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"
)

const (
	minHealthySamples = 5
	minHealthyStd     = 1e-4
)

// EvaluatePairHealth 比值序列波动太小的配对没有回归空间
func EvaluatePairHealth(ratios []float64, window int) (good bool, std float64) {
	if len(ratios) < minHealthySamples {
		return false, 0
	}
	_, std = ta.RollingMeanStd(ratios, window)
	return std > minHealthyStd, std
}

// SuggestMeanReversionConfig 根据历史比值给出窗口、z 阈值和比值阈值的建议值，
// 其它字段沿用 base
func SuggestMeanReversionConfig(ratios []float64, base service.MeanReversionConfig) service.MeanReversionConfig {
	out := base
	if len(ratios) < minHealthySamples {
		return out
	}

	out.Window = min(max(len(ratios)/2, 20), 500)

	mean, std := ta.RollingMeanStd(ratios, 0)
	if std <= 0 {
		return out
	}
	abs := make([]float64, len(ratios))
	for i, r := range ratios {
		abs[i] = math.Abs(ta.ZScore(r, mean, std))
	}
	zEntry := math.Min(math.Max(percentile(abs, 0.85), 1), 4)
	out.ZEntry = math.Round(zEntry*100) / 100
	out.ZExit = math.Max(0.2, math.Round(zEntry/3*100)/100)
	out.UseThresholds = true
	out.BuyThreshold = mean - 2*std
	out.SellThreshold = mean + 2*std
	return out
}

// percentile 线性插值，q 在 [0, 1]
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
