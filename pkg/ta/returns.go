package ta

import "math"

// PercentReturns 跳过前值为 0 的点
func PercentReturns(series []float64) []float64 {
	if len(series) < 2 {
		return nil
	}
	out := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		prev := series[i-1]
		if prev == 0 {
			continue
		}
		out = append(out, (series[i]-prev)/prev)
	}
	return out
}

func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

// Variance 总体方差
func Variance(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	m := Mean(x)
	sum := 0.0
	for _, v := range x {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(x))
}

// Covariance 两个序列按尾部对齐
func Covariance(x, y []float64) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n == 0 {
		return 0
	}
	x, y = x[len(x)-n:], y[len(y)-n:]
	mx, my := Mean(x), Mean(y)
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += (x[i] - mx) * (y[i] - my)
	}
	return sum / float64(n)
}

func Correlation(x, y []float64) float64 {
	denom := math.Sqrt(Variance(x) * Variance(y))
	if denom <= 0 {
		return 0
	}
	return Covariance(x, y) / denom
}

// Beta = cov(base, alt) / var(base)
func Beta(base, alt []float64) float64 {
	v := Variance(base)
	if v <= 0 {
		return 0
	}
	return Covariance(base, alt) / v
}

// CaptureRatios 上行/下行捕获率：基准上涨 (下跌) 区间里 alt 平均收益 / 基准平均收益
func CaptureRatios(base, alt []float64) (up float64, down float64) {
	n := len(base)
	if len(alt) < n {
		n = len(alt)
	}
	base, alt = base[len(base)-n:], alt[len(alt)-n:]

	var upBase, upAlt, downBase, downAlt float64
	var upCount, downCount int
	for i := 0; i < n; i++ {
		switch {
		case base[i] > 0:
			upBase += base[i]
			upAlt += alt[i]
			upCount++
		case base[i] < 0:
			downBase += base[i]
			downAlt += alt[i]
			downCount++
		}
	}
	if upCount > 0 && upBase != 0 {
		up = (upAlt / float64(upCount)) / (upBase / float64(upCount))
	}
	if downCount > 0 && downBase != 0 {
		down = (downAlt / float64(downCount)) / (downBase / float64(downCount))
	}
	return up, down
}

// RelativeStrength 最近 window 个价格的收益均值 / 收益标准差 (类 Sharpe)
func RelativeStrength(prices []float64, window int) float64 {
	if len(prices) < 2 {
		return 0
	}
	if window < 2 {
		window = 2
	}
	if window > len(prices) {
		window = len(prices)
	}
	returns := PercentReturns(prices[len(prices)-window:])
	if len(returns) == 0 {
		return 0
	}
	mean, std := RollingMeanStd(returns, 0)
	if std <= 0 {
		return 0
	}
	return mean / std
}
