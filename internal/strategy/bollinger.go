package strategy

import (
	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

// Bollinger 单币种布林带：跌破下轨买入，止损/止盈/突破上轨卖出
type Bollinger struct {
	cfg    service.StrategyConfig
	window *model.RollingWindow
	logger *zap.Logger
}

func NewBollinger(cfg service.StrategyConfig, logger *zap.Logger) *Bollinger {
	return &Bollinger{
		cfg:    cfg,
		window: model.NewRollingWindow(warmupBars(cfg.Bollinger.Window)),
		logger: logger,
	}
}

func (s *Bollinger) Name() string      { return service.FamilyBollinger }
func (s *Bollinger) Symbols() []string { return []string{s.cfg.Symbol} }
func (s *Bollinger) Warmup() int       { return warmupBars(s.cfg.Bollinger.Window) }

func (s *Bollinger) Reconfigure(cfg service.StrategyConfig) error {
	if err := checkReconfigure(s.cfg, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.window.Resize(warmupBars(cfg.Bollinger.Window))
	return nil
}

func (s *Bollinger) Evaluate(frame model.Frame, pos model.PositionState) model.Decision {
	cfg := s.cfg.Bollinger
	candle, ok := frame.Candles[s.cfg.Symbol]
	if !ok || candle.Close <= 0 {
		return model.NoAction(model.ReasonMissingPrice)
	}
	s.window.Push(candle.Sample())

	price := candle.Close
	ma, upper, lower := ta.Bollinger(s.window.Closes(), cfg.Window, cfg.NumStd)
	ind := model.Indicators{Value: price, MA: ma, UpperBand: upper, LowerBand: lower}

	d := model.Decision{Action: model.ActionNone, Reason: model.ReasonNoSignal, Symbol: s.cfg.Symbol, Price: price, Indicators: ind}
	if s.window.Len() < service.HistoryGate(cfg.Window) {
		d.Reason = model.ReasonNotEnoughHistory
		return d
	}
	if inCooldown(pos, frame.Time, s.cfg.CooldownSec) {
		d.Reason = model.ReasonCooldown
		return d
	}

	if pos.Holds(s.cfg.Symbol) {
		entry := pos.EntryPrice
		switch {
		case cfg.StopLossPct > 0 && price <= entry*(1-cfg.StopLossPct):
			d.Action, d.Reason = model.ActionSell, model.ReasonStopLoss
		case cfg.TakeProfitPct > 0 && price >= entry*(1+cfg.TakeProfitPct):
			d.Action, d.Reason = model.ActionSell, model.ReasonTakeProfit
		case price > upper:
			d.Action, d.Reason = model.ActionSell, model.ReasonUpperBand
		}
		if d.Action == model.ActionSell {
			d.Confidence = 1
		}
		return d
	}
	if pos.IsFlat() && price < lower {
		d.Action, d.Reason = model.ActionBuy, model.ReasonLowerBand
		d.Confidence = confidence(ma-price, ma-lower)
	}
	return d
}
