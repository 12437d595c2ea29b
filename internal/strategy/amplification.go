package strategy

import (
	"sort"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

// AmplificationStat 候选币相对基准的放大特征，基于收益率序列
type AmplificationStat struct {
	Symbol      string  `json:"symbol"`
	Beta        float64 `json:"beta"`
	Correlation float64 `json:"correlation"`
	UpCapture   float64 `json:"up_capture"`
	DownCapture float64 `json:"down_capture"`
}

type AmplificationSummary struct {
	Base        string              `json:"base"`
	Stats       []AmplificationStat `json:"stats"`
	Suggestions []string            `json:"suggestions"`
}

// NewAmplificationStat 两个价格序列按尾部对齐后计算
func NewAmplificationStat(symbol string, base, alt []float64) AmplificationStat {
	n := min(len(base), len(alt))
	baseRet := ta.PercentReturns(base[len(base)-n:])
	altRet := ta.PercentReturns(alt[len(alt)-n:])
	up, down := ta.CaptureRatios(baseRet, altRet)
	return AmplificationStat{
		Symbol:      symbol,
		Beta:        ta.Beta(baseRet, altRet),
		Correlation: ta.Correlation(baseRet, altRet),
		UpCapture:   up,
		DownCapture: down,
	}
}

func (s AmplificationStat) Qualifies(cfg service.AmplificationConfig) bool {
	return s.Beta >= cfg.MinBeta && s.Correlation >= cfg.MinCorrelation
}

// SummarizeAmplification 对每个候选取最近 Window+1 个价格，按 beta 降序排列，
// 满足阈值的前 TopN 个作为建议
func SummarizeAmplification(base []float64, alts map[string][]float64, cfg service.AmplificationConfig) AmplificationSummary {
	summary := AmplificationSummary{Base: cfg.Base}
	base = tail(base, cfg.Window+1)
	for sym, prices := range alts {
		summary.Stats = append(summary.Stats, NewAmplificationStat(sym, base, tail(prices, cfg.Window+1)))
	}
	sortStats(summary.Stats)
	for _, st := range summary.Stats {
		if len(summary.Suggestions) >= cfg.TopN {
			break
		}
		if st.Qualifies(cfg) {
			summary.Suggestions = append(summary.Suggestions, st.Symbol)
		}
	}
	return summary
}

func sortStats(stats []AmplificationStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Beta != stats[j].Beta {
			return stats[i].Beta > stats[j].Beta
		}
		return stats[i].Symbol < stats[j].Symbol
	})
}

func tail(series []float64, n int) []float64 {
	if n <= 0 || len(series) <= n {
		return series
	}
	return series[len(series)-n:]
}

// Amplification 基准动量为正时整体轮动到放大效应最好的候选币，动量转负时退回现金。
// 统计只使用当前 Frame 及之前的数据。
type Amplification struct {
	cfg         service.StrategyConfig
	windows     map[string]*model.RollingWindow
	barsSinceSw int       // 距离上次轮动成交的 K 线数，-1 表示还没有成交
	lastFill    time.Time // 已经计入的最近一次成交
	logger      *zap.Logger
}

func NewAmplification(cfg service.StrategyConfig, logger *zap.Logger) *Amplification {
	s := &Amplification{
		cfg:         cfg,
		windows:     make(map[string]*model.RollingWindow),
		barsSinceSw: -1,
		logger:      logger,
	}
	for _, sym := range cfg.Symbols() {
		s.windows[sym] = model.NewRollingWindow(amplificationCapacity(cfg.Amplification))
	}
	return s
}

func amplificationCapacity(cfg service.AmplificationConfig) int {
	return max(cfg.Window, cfg.MomentumWindow, service.MinHistoryBars-1) + 1
}

func (s *Amplification) Name() string      { return service.FamilyAmplification }
func (s *Amplification) Symbols() []string { return s.cfg.Symbols() }
func (s *Amplification) Warmup() int       { return amplificationCapacity(s.cfg.Amplification) }

func (s *Amplification) Reconfigure(cfg service.StrategyConfig) error {
	if err := checkReconfigure(s.cfg, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	for _, w := range s.windows {
		w.Resize(amplificationCapacity(cfg.Amplification))
	}
	return nil
}

// Momentum = close / close[-window] - 1
func Momentum(closes []float64, window int) float64 {
	if window < 1 || len(closes) <= window {
		return 0
	}
	prev := closes[len(closes)-1-window]
	if prev == 0 {
		return 0
	}
	return closes[len(closes)-1]/prev - 1
}

func (s *Amplification) Evaluate(frame model.Frame, pos model.PositionState) model.Decision {
	cfg := s.cfg.Amplification
	for sym, w := range s.windows {
		if c, ok := frame.Candles[sym]; ok && c.Close > 0 {
			w.Push(c.Sample())
		}
	}
	if pos.LastFillTime.After(s.lastFill) {
		s.lastFill = pos.LastFillTime
		s.barsSinceSw = 0
	}
	if s.barsSinceSw >= 0 {
		s.barsSinceSw++
	}

	baseWin := s.windows[cfg.Base]
	if baseWin.Len() < baseWin.Cap() {
		return model.NoAction(model.ReasonNotEnoughHistory)
	}
	baseCloses := baseWin.Closes()
	momentum := Momentum(baseCloses, cfg.MomentumWindow)

	var stats []AmplificationStat
	for sym, w := range s.windows {
		if sym == cfg.Base || w.Len() < w.Cap() {
			continue
		}
		stats = append(stats, NewAmplificationStat(sym, tail(baseCloses, cfg.Window+1), tail(w.Closes(), cfg.Window+1)))
	}
	sortStats(stats)

	scores := make(map[string]float64, len(stats))
	best := ""
	for _, st := range stats {
		scores[st.Symbol] = st.Beta
		if !st.Qualifies(cfg) {
			continue
		}
		if best == "" || st.Symbol == cfg.Conversion {
			best = st.Symbol
		}
	}
	basePrice, _ := frame.Price(cfg.Base)
	ind := model.Indicators{Value: basePrice, Momentum: momentum, Scores: scores}
	d := model.Decision{Action: model.ActionNone, Reason: model.ReasonNoSignal, Indicators: ind}

	switch {
	case momentum > 0:
		if best == "" {
			d.Reason = model.ReasonNoCandidate
			return d
		}
		if pos.Holds(best) {
			d.Reason = model.ReasonHolding
			return d
		}
		price, ok := frame.Price(best)
		if !ok {
			d.Reason = model.ReasonMissingPrice
			return d
		}
		if s.coolingDown() {
			d.Reason = model.ReasonCooldown
			return d
		}
		d.Action, d.Reason = model.ActionBuy, model.ReasonMomentumUp
		d.Symbol, d.Target, d.Price = best, best, price
		d.Confidence = confidence(scores[best], 2*cfg.MinBeta)
	case momentum < 0:
		if pos.IsFlat() {
			return d
		}
		price, ok := frame.Price(pos.Asset)
		if !ok {
			d.Reason = model.ReasonMissingPrice
			return d
		}
		if s.coolingDown() {
			d.Reason = model.ReasonCooldown
			return d
		}
		d.Action, d.Reason = model.ActionSell, model.ReasonMomentumDown
		d.Symbol, d.Price = pos.Asset, price
		d.Confidence = 1
	}
	return d
}

func (s *Amplification) coolingDown() bool {
	return s.barsSinceSw >= 0 && s.barsSinceSw < s.cfg.Amplification.SwitchCooldownBars
}
