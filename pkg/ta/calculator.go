package ta

import (
	"fmt"

	"go.uber.org/zap"
)

// TAData 一次快照里所有指标的最新值，用于落库展示，不参与决策
type TAData struct {
	Price    float64 `json:"price"`
	MA       float64 `json:"ma"`
	Std      float64 `json:"std"`
	ZScore   float64 `json:"z_score"`
	BBandsUp float64 `json:"upper_band"`
	BBandsDn float64 `json:"lower_band"`
	FastEMA  float64 `json:"fast_ema"`
	SlowEMA  float64 `json:"slow_ema"`
	ATR      float64 `json:"atr"`
	RSI      float64 `json:"rsi"`
}

// TACalculator 按固定周期计算快照指标
type TACalculator struct {
	MAPeriod      int
	BBandsStd     float64
	FastPeriod    int
	SlowPeriod    int
	ATRPeriod     int
	RSIPeriod     int
	MinHistoryLen int // 计算指标所需的最小历史长度
	Logger        *zap.Logger
}

// NewTACalculator 初始化技术指标计算器
func NewTACalculator(logger *zap.Logger) *TACalculator {
	return &TACalculator{
		MAPeriod:      20,
		BBandsStd:     2,
		FastPeriod:    12,
		SlowPeriod:    26,
		ATRPeriod:     14,
		RSIPeriod:     14,
		MinHistoryLen: 2,
		Logger:        logger,
	}
}

// Calculate 根据收盘/最高/最低价序列计算快照
func (tc *TACalculator) Calculate(closes, highs, lows []float64) (*TAData, error) {
	if len(closes) < tc.MinHistoryLen {
		tc.Logger.Debug("Not enough history for calculation", zap.Int("Len", len(closes)))
		return nil, fmt.Errorf("history too short for snapshot: %d < %d", len(closes), tc.MinHistoryLen)
	}

	price := closes[len(closes)-1]
	mean, std := RollingMeanStd(closes, tc.MAPeriod)
	_, up, dn := Bollinger(closes, tc.MAPeriod, tc.BBandsStd)

	return &TAData{
		Price:    price,
		MA:       mean,
		Std:      std,
		ZScore:   ZScore(price, mean, std),
		BBandsUp: up,
		BBandsDn: dn,
		FastEMA:  EMA(closes, tc.FastPeriod),
		SlowEMA:  EMA(closes, tc.SlowPeriod),
		ATR:      ATR(highs, lows, closes, tc.ATRPeriod),
		RSI:      RSI(closes, tc.RSIPeriod),
	}, nil
}
