package strategy

import (
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

// Trend 快慢 EMA 交叉开仓，反向交叉或 ATR 追踪止损平仓
type Trend struct {
	cfg    service.StrategyConfig
	window *model.RollingWindow
	logger *zap.Logger
}

func NewTrend(cfg service.StrategyConfig, logger *zap.Logger) *Trend {
	return &Trend{
		cfg:    cfg,
		window: model.NewRollingWindow(trendCapacity(cfg.Trend)),
		logger: logger,
	}
}

func trendCapacity(cfg service.TrendConfig) int {
	return max(cfg.FastWindow, cfg.SlowWindow, cfg.ATRWindow, service.MinHistoryBars) + 1
}

func (s *Trend) Name() string      { return service.FamilyTrend }
func (s *Trend) Symbols() []string { return []string{s.cfg.Symbol} }
func (s *Trend) Warmup() int       { return trendCapacity(s.cfg.Trend) - 1 }

func (s *Trend) Reconfigure(cfg service.StrategyConfig) error {
	if err := checkReconfigure(s.cfg, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.window.Resize(trendCapacity(cfg.Trend))
	return nil
}

func (s *Trend) Evaluate(frame model.Frame, pos model.PositionState) model.Decision {
	cfg := s.cfg.Trend
	candle, ok := frame.Candles[s.cfg.Symbol]
	if !ok || candle.Close <= 0 {
		return model.NoAction(model.ReasonMissingPrice)
	}
	s.window.Push(candle.Sample())

	closes := s.window.Closes()
	price := candle.Close
	fast := ta.EMA(closes, cfg.FastWindow)
	slow := ta.EMA(closes, cfg.SlowWindow)
	atr := ta.ATR(s.window.Highs(), s.window.Lows(), closes, cfg.ATRWindow)
	ind := model.Indicators{Value: price, FastEMA: fast, SlowEMA: slow, ATR: atr}

	d := model.Decision{Action: model.ActionNone, Reason: model.ReasonNoSignal, Symbol: s.cfg.Symbol, Price: price, Indicators: ind}
	if len(closes) < s.Warmup() {
		d.Reason = model.ReasonNotEnoughHistory
		return d
	}
	if inCooldown(pos, frame.Time, s.cfg.CooldownSec) {
		d.Reason = model.ReasonCooldown
		return d
	}

	if pos.Holds(s.cfg.Symbol) {
		peak := max(pos.PeakPrice, price)
		switch {
		case fast < slow:
			d.Action, d.Reason = model.ActionSell, model.ReasonEMACrossDown
		case atr > 0 && price <= peak-cfg.ATRMultiplier*atr:
			d.Action, d.Reason = model.ActionSell, model.ReasonTrailingStop
		}
		if d.Action == model.ActionSell {
			d.Confidence = 1
		}
		return d
	}
	if pos.IsFlat() && fast > slow {
		d.Action, d.Reason = model.ActionBuy, model.ReasonEMACrossUp
		d.Confidence = confidence(fast-slow, atr)
	}
	return d
}
