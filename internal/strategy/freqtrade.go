package strategy

import (
	"math"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

const freqtradeCapacity = 120

// 各规则需要的最少 K 线数
var freqtradeWarmup = map[string]int{
	service.RulePatternRecognition: 1,
	service.RuleStrategy001:        101,
	service.RuleStrategy002:        20,
	service.RuleStrategy003:        20,
	service.RuleSupertrend:         15,
	service.RuleFisherRSI:          23,
}

// ruleSignal 1 买入，-1 卖出，0 无
type ruleSignal func(w *model.RollingWindow, ind *model.Indicators) int

// Freqtrade 单币种规则集，买入只在空仓时生效，卖出只在持仓时生效
type Freqtrade struct {
	cfg    service.StrategyConfig
	window *model.RollingWindow
	rule   ruleSignal
	logger *zap.Logger
}

func NewFreqtrade(cfg service.StrategyConfig, logger *zap.Logger) *Freqtrade {
	return &Freqtrade{
		cfg:    cfg,
		window: model.NewRollingWindow(freqtradeCapacity),
		rule:   freqtradeRule(cfg.Freqtrade.Rule),
		logger: logger,
	}
}

func freqtradeRule(name string) ruleSignal {
	switch name {
	case service.RulePatternRecognition:
		return patternRecognition
	case service.RuleStrategy001:
		return strategy001
	case service.RuleStrategy003:
		return strategy003
	case service.RuleSupertrend:
		return mfiRule
	case service.RuleFisherRSI:
		return fisherRSI
	default:
		return strategy002
	}
}

func (s *Freqtrade) Name() string      { return service.FamilyFreqtrade }
func (s *Freqtrade) Symbols() []string { return []string{s.cfg.Symbol} }
func (s *Freqtrade) Warmup() int       { return warmupBars(freqtradeWarmup[s.cfg.Freqtrade.Rule]) }

func (s *Freqtrade) Reconfigure(cfg service.StrategyConfig) error {
	if err := checkReconfigure(s.cfg, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.rule = freqtradeRule(cfg.Freqtrade.Rule)
	return nil
}

func (s *Freqtrade) Evaluate(frame model.Frame, pos model.PositionState) model.Decision {
	candle, ok := frame.Candles[s.cfg.Symbol]
	if !ok || candle.Close <= 0 {
		return model.NoAction(model.ReasonMissingPrice)
	}
	s.window.Push(candle.Sample())

	ind := model.Indicators{Value: candle.Close, Scores: make(map[string]float64)}
	d := model.Decision{Action: model.ActionNone, Reason: model.ReasonNoSignal, Symbol: s.cfg.Symbol, Price: candle.Close}
	if s.window.Len() < s.Warmup() {
		d.Reason = model.ReasonNotEnoughHistory
		d.Indicators = ind
		return d
	}
	if inCooldown(pos, frame.Time, s.cfg.CooldownSec) {
		d.Reason = model.ReasonCooldown
		d.Indicators = ind
		return d
	}

	signal := s.rule(s.window, &ind)
	d.Indicators = ind
	switch {
	case signal > 0 && pos.IsFlat():
		d.Action, d.Reason, d.Confidence = model.ActionBuy, model.ReasonRuleBuy, 1
	case signal < 0 && pos.Holds(s.cfg.Symbol):
		d.Action, d.Reason, d.Confidence = model.ActionSell, model.ReasonRuleSell, 1
	}
	return d
}

// HighWaveScore 小实体、上下影线都很长的 K 线：阳线 100，阴线 -100，否则 0
func HighWaveScore(c model.PriceSample) float64 {
	rng := c.High - c.Low
	if rng <= 0 {
		return 0
	}
	body := math.Abs(c.Close - c.Open)
	upper := c.High - math.Max(c.Open, c.Close)
	lower := math.Min(c.Open, c.Close) - c.Low
	if body > 0.2*rng || upper < 0.3*rng || lower < 0.3*rng {
		return 0
	}
	if c.Close >= c.Open {
		return 100
	}
	return -100
}

func patternRecognition(w *model.RollingWindow, ind *model.Indicators) int {
	last, _ := w.Last()
	score := HighWaveScore(last)
	ind.Scores["high_wave"] = score
	switch {
	case score == -100:
		return 1
	case score > 0:
		return -1
	}
	return 0
}

// crossedAbove a 在最新一根上穿 b
func crossedAbove(closes []float64, a, b int) bool {
	n := len(closes)
	if n < 2 {
		return false
	}
	prev := closes[:n-1]
	return ta.EMA(prev, a) <= ta.EMA(prev, b) && ta.EMA(closes, a) > ta.EMA(closes, b)
}

func strategy001(w *model.RollingWindow, ind *model.Indicators) int {
	closes := w.Closes()
	ema20 := ta.EMA(closes, 20)
	haOpen, haClose := ta.HeikinAshi(w.Opens(), w.Highs(), w.Lows(), closes)
	ind.FastEMA = ema20
	ind.SlowEMA = ta.EMA(closes, 50)
	ind.Scores["ha_close"] = haClose

	switch {
	case crossedAbove(closes, 20, 50) && haClose > ema20 && haClose > haOpen:
		return 1
	case crossedAbove(closes, 50, 100) && haClose < ema20 && haClose < haOpen:
		return -1
	}
	return 0
}

func strategy002(w *model.RollingWindow, ind *model.Indicators) int {
	closes := w.Closes()
	ma, upper, lower := ta.Bollinger(closes, 20, 2)
	ind.MA, ind.UpperBand, ind.LowerBand = ma, upper, lower
	price := closes[len(closes)-1]
	switch {
	case price < lower:
		return 1
	case price > upper:
		return -1
	}
	return 0
}

func strategy003(w *model.RollingWindow, ind *model.Indicators) int {
	k, d := ta.Stochastic(w.Highs(), w.Lows(), w.Closes(), 14, 3, 3)
	ind.Scores["slowk"] = k
	ind.Scores["slowd"] = d
	switch {
	case k < 20 && d < 20:
		return 1
	case k > 80 && d > 80:
		return -1
	}
	return 0
}

func mfiRule(w *model.RollingWindow, ind *model.Indicators) int {
	mfi := ta.MFI(w.Highs(), w.Lows(), w.Closes(), w.Volumes(), 14)
	ind.Scores["mfi"] = mfi
	switch {
	case mfi < 35:
		return 1
	case mfi > 65:
		return -1
	}
	return 0
}

func fisherRSI(w *model.RollingWindow, ind *model.Indicators) int {
	fisher := ta.InverseFisherRSI(w.Closes(), 14, 9)
	ind.Scores["fisher_rsi"] = fisher
	switch {
	case fisher < -0.5:
		return 1
	case fisher > 0.5:
		return -1
	}
	return 0
}
