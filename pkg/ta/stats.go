package ta

import "math"

// RollingMeanStd 计算最近 min(window, len(series)) 个样本的均值和总体标准差 (除以 N)。
// window <= 0 时使用全部样本；空序列返回 (0, 0)。
func RollingMeanStd(series []float64, window int) (mean float64, std float64) {
	if len(series) == 0 {
		return 0, 0
	}
	if window <= 0 || window > len(series) {
		window = len(series)
	}
	subset := series[len(series)-window:]

	sum := 0.0
	for _, v := range subset {
		sum += v
	}
	mean = sum / float64(len(subset))

	variance := 0.0
	for _, v := range subset {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(subset))
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return mean, std
}

// ZScore std 为 0 时返回 0 (平盘无信号)
func ZScore(value, mean, std float64) float64 {
	if std <= 0 {
		return 0
	}
	return (value - mean) / std
}

// EMA 以 series[-window] 作为种子, k = 2/(window+1) 向前折叠。
// window 被限制在 [1, len(series)]。
func EMA(series []float64, window int) float64 {
	if len(series) == 0 {
		return 0
	}
	if window < 1 {
		window = 1
	}
	if window > len(series) {
		window = len(series)
	}
	k := 2.0 / float64(window+1)
	start := len(series) - window
	ema := series[start]
	for _, price := range series[start+1:] {
		ema = price*k + ema*(1-k)
	}
	return ema
}

// TrueRanges 第一根 K 线以自身收盘价作为前收盘价
func TrueRanges(highs, lows, closes []float64) []float64 {
	n := minLen(highs, lows, closes)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		prevClose := closes[i]
		if i > 0 {
			prevClose = closes[i-1]
		}
		out[i] = math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prevClose), math.Abs(lows[i]-prevClose)))
	}
	return out
}

// ATR 最近 window 个真实波幅的算术平均
func ATR(highs, lows, closes []float64, window int) float64 {
	trs := TrueRanges(highs, lows, closes)
	if len(trs) == 0 {
		return 0
	}
	if window <= 0 || window > len(trs) {
		window = len(trs)
	}
	sum := 0.0
	for _, tr := range trs[len(trs)-window:] {
		sum += tr
	}
	return sum / float64(window)
}

// Bollinger 返回 (中轨, 上轨, 下轨)。样本不足时带宽收敛到价格本身。
func Bollinger(series []float64, window int, numStd float64) (mean, upper, lower float64) {
	mean, std := RollingMeanStd(series, window)
	return mean, mean + numStd*std, mean - numStd*std
}

func minLen(series ...[]float64) int {
	if len(series) == 0 {
		return 0
	}
	n := len(series[0])
	for _, s := range series[1:] {
		if len(s) < n {
			n = len(s)
		}
	}
	return n
}
