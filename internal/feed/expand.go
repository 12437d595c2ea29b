package feed

import (
	"time"

	"crypto-strategy-engine/internal/model"
)

// ExpandTo20s 每根 1m K 线复制成 :00/:20/:40 三根同价 K 线，只保留 [start, end] 内的
func ExpandTo20s(candles []model.Candle, start, end time.Time) []model.Candle {
	out := make([]model.Candle, 0, len(candles)*3)
	for _, c := range candles {
		for _, offset := range []time.Duration{0, 20 * time.Second, 40 * time.Second} {
			sub := c
			sub.Time = c.Time.Add(offset)
			if sub.Time.Before(start) || sub.Time.After(end) {
				continue
			}
			out = append(out, sub)
		}
	}
	return out
}
