package model

import (
	"sort"
	"time"
)

// Ticker 代表最小粒度的市场数据（成交或价格快照）
type Ticker struct {
	Symbol       string  // 所属交易对，例如 "BTCUSDT"
	Timestamp    int64   // 毫秒时间戳
	Price        float64 // 价格
	Volume       float64 // 交易量 (0 表示价格快照)
	IsBuyerMaker bool    // 是否为 Maker 导致的成交 (用于判断方向)
}

// Candle 代表一根 K 线，按 Time (开盘时间) 升序排列
type Candle struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Sample 转换为写入滚动窗口的价格样本
func (c Candle) Sample() PriceSample {
	return PriceSample{
		Time:   c.Time,
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// FlatCandle 只有一个价格时 (轮询行情)，OHLC 都取该价格
func FlatCandle(symbol string, ts time.Time, price float64) Candle {
	return Candle{Symbol: symbol, Time: ts, Open: price, High: price, Low: price, Close: price}
}

// PriceSample 写入后不可变
type PriceSample struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Frame 是引擎处理的一个时间点：同一时刻所有相关交易对的 K 线
type Frame struct {
	Time    time.Time
	Candles map[string]Candle
}

func NewFrame(ts time.Time) Frame {
	return Frame{Time: ts, Candles: make(map[string]Candle)}
}

// Price 返回 symbol 的收盘价，缺失或非正数时 ok=false
func (f Frame) Price(symbol string) (float64, bool) {
	c, ok := f.Candles[symbol]
	if !ok || c.Close <= 0 {
		return 0, false
	}
	return c.Close, true
}

// Prices 收盘价视图
func (f Frame) Prices() map[string]float64 {
	out := make(map[string]float64, len(f.Candles))
	for sym, c := range f.Candles {
		if c.Close > 0 {
			out[sym] = c.Close
		}
	}
	return out
}

// Symbols 按字母排序，保证遍历顺序确定
func (f Frame) Symbols() []string {
	out := make([]string, 0, len(f.Candles))
	for sym := range f.Candles {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
