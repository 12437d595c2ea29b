package strategy

import (
	"sort"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

// RankedSymbol 横截面排名的一项
type RankedSymbol struct {
	Symbol string
	Score  float64
}

// RelativeStrength 候选池按相对强弱排名，强弱配对，定期轮动到最强的一边。
// 现货只能做多，空头一边只作为价差参考。
type RelativeStrength struct {
	cfg           service.StrategyConfig
	windows       map[string]*model.RollingWindow
	bars          int
	lastRebalance time.Time // 最近一次调仓成交或确认无需调仓的时间
	logger        *zap.Logger
}

func NewRelativeStrength(cfg service.StrategyConfig, logger *zap.Logger) *RelativeStrength {
	s := &RelativeStrength{
		cfg:     cfg,
		windows: make(map[string]*model.RollingWindow, len(cfg.Universe)),
		logger:  logger,
	}
	for _, sym := range cfg.Universe {
		s.windows[sym] = model.NewRollingWindow(cfg.RelativeStrength.Lookback + 1)
	}
	return s
}

func (s *RelativeStrength) Name() string      { return service.FamilyRelativeStrength }
func (s *RelativeStrength) Symbols() []string { return s.cfg.Symbols() }
func (s *RelativeStrength) Warmup() int       { return warmupBars(s.cfg.RelativeStrength.Lookback + 1) }

func (s *RelativeStrength) Reconfigure(cfg service.StrategyConfig) error {
	if err := checkReconfigure(s.cfg, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	for _, w := range s.windows {
		w.Resize(cfg.RelativeStrength.Lookback + 1)
	}
	return nil
}

// Rank 分数降序，同分按交易对名字升序
func Rank(scores map[string]float64) []RankedSymbol {
	out := make([]RankedSymbol, 0, len(scores))
	for sym, score := range scores {
		out = append(out, RankedSymbol{Symbol: sym, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// PairSpreads 前 topN 强势币依次配对最弱的 bottomN 个 (最弱的排第一)
func PairSpreads(ranked []RankedSymbol, topN, bottomN int) []model.Spread {
	n := min(topN, bottomN, len(ranked)/2)
	out := make([]model.Spread, 0, n)
	for i := 0; i < n; i++ {
		long := ranked[i]
		short := ranked[len(ranked)-1-i]
		out = append(out, model.Spread{
			Long:       long.Symbol,
			Short:      short.Symbol,
			LongScore:  long.Score,
			ShortScore: short.Score,
			Gap:        long.Score - short.Score,
		})
	}
	return out
}

func (s *RelativeStrength) Evaluate(frame model.Frame, pos model.PositionState) model.Decision {
	cfg := s.cfg.RelativeStrength
	for sym, w := range s.windows {
		if c, ok := frame.Candles[sym]; ok && c.Close > 0 {
			w.Push(c.Sample())
		}
	}
	s.bars++
	// 调仓间隔从成交开始计算，信号没有成交时下一帧重试
	if pos.LastFillTime.After(s.lastRebalance) {
		s.lastRebalance = pos.LastFillTime
	}

	scores := make(map[string]float64, len(s.windows))
	for sym, w := range s.windows {
		if w.Len() < w.Cap() {
			continue
		}
		scores[sym] = ta.RelativeStrength(w.Closes(), cfg.Lookback+1)
	}
	ind := model.Indicators{Scores: scores}
	if len(scores) < 2 || s.bars < s.Warmup() {
		d := model.NoAction(model.ReasonNotEnoughHistory)
		d.Indicators = ind
		return d
	}

	spreads := PairSpreads(Rank(scores), cfg.TopN, cfg.BottomN)
	d := model.Decision{Action: model.ActionNone, Reason: model.ReasonNoSignal, Indicators: ind, Spreads: spreads}
	if !s.lastRebalance.IsZero() && frame.Time.Sub(s.lastRebalance) < time.Duration(cfg.RebalanceSec)*time.Second {
		d.Reason = model.ReasonRebalanceWait
		return d
	}

	qualified := make([]model.Spread, 0, len(spreads))
	for _, sp := range spreads {
		if sp.Gap >= cfg.MinRSGap {
			qualified = append(qualified, sp)
		}
	}
	if len(qualified) == 0 {
		d.Reason = model.ReasonGapTooSmall
		return d
	}
	d.Spreads = qualified

	best := qualified[0]
	if pos.Holds(best.Long) {
		s.lastRebalance = frame.Time
		d.Reason = model.ReasonHolding
		return d
	}
	price, ok := frame.Price(best.Long)
	if !ok {
		d.Reason = model.ReasonMissingPrice
		return d
	}
	d.Action, d.Reason = model.ActionBuy, model.ReasonRebalance
	d.Symbol, d.Target, d.Price = best.Long, best.Long, price
	d.Confidence = confidence(best.Gap, 2*cfg.MinRSGap)
	s.logger.Info("Rebalance signal",
		zap.String("Long", best.Long),
		zap.String("Short", best.Short),
		zap.Float64("Gap", best.Gap))
	return d
}
