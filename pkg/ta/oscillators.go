package ta

import (
	"math"

	"github.com/markcheno/go-talib"
)

// 历史不足时返回的中性值
const (
	NeutralOscillator = 50.0
	NeutralFisher     = 0.0
)

// RSI 使用 talib (Wilder 平滑)，历史不足或价格完全不动时返回 50
func RSI(closes []float64, period int) float64 {
	if period < 1 || len(closes) <= period {
		return NeutralOscillator
	}
	if isFlat(closes[len(closes)-period-1:]) {
		return NeutralOscillator
	}
	out := talib.Rsi(closes, period)
	return last(out, NeutralOscillator)
}

// Stochastic 返回慢速 %K 和 %D (SMA 平滑)
func Stochastic(highs, lows, closes []float64, kPeriod, slowK, dPeriod int) (k float64, d float64) {
	n := minLen(highs, lows, closes)
	if kPeriod < 1 || slowK < 1 || dPeriod < 1 || n < kPeriod+slowK+dPeriod {
		return NeutralOscillator, NeutralOscillator
	}
	slowKs, slowDs := talib.Stoch(highs[:n], lows[:n], closes[:n], kPeriod, slowK, talib.SMA, dPeriod, talib.SMA)
	return last(slowKs, NeutralOscillator), last(slowDs, NeutralOscillator)
}

// MFI 资金流量指标；窗口内成交量为 0 时返回 50
func MFI(highs, lows, closes, volumes []float64, period int) float64 {
	n := minLen(highs, lows, closes, volumes)
	if period < 1 || n <= period {
		return NeutralOscillator
	}
	volume := 0.0
	for _, v := range volumes[n-period : n] {
		volume += v
	}
	if volume <= 0 {
		return NeutralOscillator
	}
	out := talib.Mfi(highs[:n], lows[:n], closes[:n], volumes[:n], period)
	return last(out, NeutralOscillator)
}

// InverseFisherRSI 对 0.1*(RSI-50) 做 WMA 平滑后取反 Fisher 变换，取值 (-1, 1)
func InverseFisherRSI(closes []float64, rsiPeriod, wmaPeriod int) float64 {
	if rsiPeriod < 1 || wmaPeriod < 1 || len(closes) < rsiPeriod+wmaPeriod {
		return NeutralFisher
	}
	rsi := talib.Rsi(closes, rsiPeriod)[rsiPeriod:]
	scaled := make([]float64, len(rsi))
	for i, v := range rsi {
		scaled[i] = 0.1 * (v - 50)
	}
	x := scaled[len(scaled)-1]
	if len(scaled) >= wmaPeriod {
		x = last(talib.Wma(scaled, wmaPeriod), x)
	}
	e := math.Exp(2 * x)
	return (e - 1) / (e + 1)
}

// HeikinAshi 返回最新一根的 HA 开盘/收盘
func HeikinAshi(opens, highs, lows, closes []float64) (haOpen float64, haClose float64) {
	n := minLen(opens, highs, lows, closes)
	if n == 0 {
		return 0, 0
	}
	i := n - 1
	haClose = (opens[i] + highs[i] + lows[i] + closes[i]) / 4
	if i == 0 {
		return (opens[i] + closes[i]) / 2, haClose
	}
	return (opens[i-1] + closes[i-1]) / 2, haClose
}

func last(series []float64, fallback float64) float64 {
	if len(series) == 0 {
		return fallback
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func isFlat(series []float64) bool {
	for i := 1; i < len(series); i++ {
		if series[i] != series[0] {
			return false
		}
	}
	return true
}
