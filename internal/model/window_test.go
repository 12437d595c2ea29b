package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRollingWindowEvictsFIFO(t *testing.T) {
	w := NewRollingWindow(3)
	for i := 1; i <= 5; i++ {
		w.PushValue(float64(i))
		assert.LessOrEqual(t, w.Len(), w.Cap())
	}
	assert.Equal(t, []float64{3, 4, 5}, w.Closes())

	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 5.0, last.Close)
}

func TestRollingWindowResizeKeepsNewest(t *testing.T) {
	w := NewRollingWindow(5)
	for i := 1; i <= 5; i++ {
		w.PushValue(float64(i))
	}
	w.Resize(2)
	assert.Equal(t, []float64{4, 5}, w.Closes())

	w.Resize(4)
	w.PushValue(6)
	assert.Equal(t, []float64{4, 5, 6}, w.Closes())
}

func TestRollingWindowSamplesIsCopy(t *testing.T) {
	w := NewRollingWindow(2)
	w.Push(PriceSample{Close: 1, High: 2, Low: 0.5})
	s := w.Samples()
	s[0].Close = 99
	assert.Equal(t, []float64{1}, w.Closes())
	assert.Equal(t, []float64{2}, w.Highs())
	assert.Equal(t, []float64{0.5}, w.Lows())
}

func TestFramePrice(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	f := NewFrame(ts)
	f.Candles["BTCUSDT"] = FlatCandle("BTCUSDT", ts, 30000)
	f.Candles["ETHUSDT"] = FlatCandle("ETHUSDT", ts, 0)

	p, ok := f.Price("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 30000.0, p)

	_, ok = f.Price("ETHUSDT")
	assert.False(t, ok)
	_, ok = f.Price("DOGEUSDT")
	assert.False(t, ok)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.Symbols())
	assert.Equal(t, map[string]float64{"BTCUSDT": 30000}, f.Prices())
}

func TestPositionStateHolds(t *testing.T) {
	var p PositionState
	assert.True(t, p.IsFlat())
	assert.False(t, p.Holds("BTCUSDT"))

	p = PositionState{Asset: "BTCUSDT", Quantity: 0.5}
	assert.True(t, p.Holds("BTCUSDT"))
	assert.False(t, p.Holds("ETHUSDT"))
}

func TestFillReportQuoteFallback(t *testing.T) {
	assert.Equal(t, 250.0, FillReport{FilledQty: 2.5}.Quote(100))
	assert.Equal(t, 249.0, FillReport{FilledQty: 2.5, FilledQuote: 249}.Quote(100))
}
