package ta

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestRollingMeanStdPopulation(t *testing.T) {
	mean, std := RollingMeanStd([]float64{1, 2, 3, 4}, 4)
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), std, 1e-12)

	// 只取最后 window 个
	mean, std = RollingMeanStd([]float64{100, 1, 2, 3, 4}, 4)
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.25), std, 1e-12)
}

func TestRollingMeanStdIsIdempotentAndNonNegative(t *testing.T) {
	series := []float64{1.02, 0.98, 1.01, 1.05, 0.97, 1.00}
	m1, s1 := RollingMeanStd(series, 5)
	m2, s2 := RollingMeanStd(series, 5)
	assert.Equal(t, m1, m2)
	assert.Equal(t, s1, s2)
	assert.GreaterOrEqual(t, s1, 0.0)
}

func TestRollingMeanStdShortInput(t *testing.T) {
	mean, std := RollingMeanStd(nil, 10)
	assert.Zero(t, mean)
	assert.Zero(t, std)

	mean, std = RollingMeanStd([]float64{42}, 10)
	assert.Equal(t, 42.0, mean)
	assert.Zero(t, std)
}

func TestZScore(t *testing.T) {
	assert.Zero(t, ZScore(5, 5, 0))
	assert.InDelta(t, 2.0, ZScore(7, 5, 1), 1e-12)

	series := []float64{1, 3, 2, 4, 9}
	mean, std := RollingMeanStd(series, 5)
	assert.GreaterOrEqual(t, ZScore(series[4], mean, std), 0.0)

	series = []float64{5, 3, 4, 6, -1}
	mean, std = RollingMeanStd(series, 5)
	assert.LessOrEqual(t, ZScore(series[4], mean, std), 0.0)
}

func TestEMASeedsAtWindowStart(t *testing.T) {
	assert.InDelta(t, 2+2.0/3.0, EMA([]float64{1, 2, 3}, 2), 1e-12)
	// window 被限制到序列长度
	assert.InDelta(t, EMA([]float64{1, 2, 3}, 3), EMA([]float64{1, 2, 3}, 50), 1e-12)
	assert.Equal(t, 3.0, EMA([]float64{1, 2, 3}, 0))
	assert.Zero(t, EMA(nil, 5))
}

func TestATR(t *testing.T) {
	highs := []float64{10, 12}
	lows := []float64{8, 9}
	closes := []float64{9, 11}
	assert.InDelta(t, 2.5, ATR(highs, lows, closes, 2), 1e-12)
	assert.InDelta(t, 3.0, ATR(highs, lows, closes, 1), 1e-12)
	assert.Zero(t, ATR(nil, nil, nil, 14))
}

func TestBollingerCollapsesOnSinglePrice(t *testing.T) {
	mid, up, dn := Bollinger([]float64{50}, 20, 2)
	assert.Equal(t, 50.0, mid)
	assert.Equal(t, 50.0, up)
	assert.Equal(t, 50.0, dn)
}

func TestOscillatorsNeutralOnShortHistory(t *testing.T) {
	assert.Equal(t, NeutralOscillator, RSI([]float64{1, 2, 3}, 14))
	k, d := Stochastic([]float64{1}, []float64{1}, []float64{1}, 14, 3, 3)
	assert.Equal(t, NeutralOscillator, k)
	assert.Equal(t, NeutralOscillator, d)
	assert.Equal(t, NeutralOscillator, MFI([]float64{1}, []float64{1}, []float64{1}, []float64{1}, 14))
	assert.Equal(t, NeutralFisher, InverseFisherRSI([]float64{1, 2}, 14, 9))
}

func TestRSIExtremes(t *testing.T) {
	assert.InDelta(t, 100.0, RSI(rising(30), 14), 1e-9)

	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 7
	}
	assert.Equal(t, NeutralOscillator, RSI(flat, 14))
}

func TestStochasticOnUptrend(t *testing.T) {
	closes := rising(40)
	highs := make([]float64, len(closes))
	lows := make([]float64, len(closes))
	for i, c := range closes {
		highs[i] = c + 1
		lows[i] = c - 1
	}
	k, d := Stochastic(highs, lows, closes, 14, 3, 3)
	assert.Greater(t, k, 80.0)
	assert.Greater(t, d, 80.0)
}

func TestMFIZeroVolumeIsNeutral(t *testing.T) {
	closes := rising(30)
	zeros := make([]float64, len(closes))
	assert.Equal(t, NeutralOscillator, MFI(closes, closes, closes, zeros, 14))
}

func TestInverseFisherRSIRange(t *testing.T) {
	v := InverseFisherRSI(rising(60), 14, 9)
	assert.Greater(t, v, 0.5)
	assert.Less(t, v, 1.0)
}

func TestBetaCorrelationCapture(t *testing.T) {
	base := []float64{0.01, -0.02, 0.03, -0.01, 0.02}
	alt := make([]float64, len(base))
	for i, r := range base {
		alt[i] = 2 * r
	}
	assert.InDelta(t, 2.0, Beta(base, alt), 1e-9)
	assert.InDelta(t, 1.0, Correlation(base, alt), 1e-9)

	up, down := CaptureRatios(base, alt)
	assert.InDelta(t, 2.0, up, 1e-9)
	assert.InDelta(t, 2.0, down, 1e-9)

	assert.Zero(t, Beta([]float64{0.01, 0.01}, alt))
}

func TestRelativeStrength(t *testing.T) {
	assert.Zero(t, RelativeStrength([]float64{1}, 10))
	// 收益恒定，标准差为 0
	assert.Zero(t, RelativeStrength([]float64{1, 2, 4, 8}, 10))

	up := []float64{100, 101, 103, 104, 107, 108}
	down := []float64{100, 99, 97, 96, 93, 92}
	assert.Greater(t, RelativeStrength(up, 6), 0.0)
	assert.Less(t, RelativeStrength(down, 6), 0.0)
}

func TestCalculatorSnapshot(t *testing.T) {
	tc := NewTACalculator(zap.NewNop())
	_, err := tc.Calculate([]float64{1}, []float64{1}, []float64{1})
	require.Error(t, err)

	closes := rising(30)
	data, err := tc.Calculate(closes, closes, closes)
	require.NoError(t, err)
	assert.Equal(t, closes[len(closes)-1], data.Price)
	assert.Greater(t, data.ZScore, 0.0)
	assert.Greater(t, data.BBandsUp, data.BBandsDn)
	assert.Greater(t, data.FastEMA, data.SlowEMA)
}
