package strategy

import (
	"math"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"go.uber.org/zap"
)

// Rearm z-score 模式的迟滞状态：同方向信号触发后，|z| 回落到 z_exit 以下才能再次触发
type Rearm struct {
	Ready    bool
	LastSign int // -1 BUY, 1 SELL, 0 无
}

func NewRearm() Rearm { return Rearm{Ready: true} }

// Fire 返回本次触发的信号方向 (1 SELL, -1 BUY, 0 无)
func (r *Rearm) Fire(z, zEntry, zExit float64) int {
	if math.Abs(z) < zExit {
		r.Ready = true
		r.LastSign = 0
		return 0
	}
	sign := 0
	switch {
	case z > zEntry && (r.Ready || r.LastSign < 0):
		sign = 1
	case z < -zEntry && (r.Ready || r.LastSign > 0):
		sign = -1
	}
	if sign != 0 {
		r.Ready = false
		r.LastSign = sign
	}
	return sign
}

// ClampOutlier 新值同时超过 sigma 倍标准差和相对跳变阈值时，夹到 mean ± sigma*std
func ClampOutlier(value, prev, mean, std, sigma, maxJump float64) (float64, bool) {
	if std <= 0 {
		return value, false
	}
	relJump := math.Abs(value-prev) / math.Max(math.Abs(prev), 1e-9)
	if math.Abs(value-mean) <= sigma*std || relJump <= maxJump {
		return value, false
	}
	if value > mean {
		return mean + sigma*std, true
	}
	return mean - sigma*std, true
}

// MeanReversion A/B 价格比值的配对轮动。
// 比值偏高 (A 贵) 时 SELL：持有 A 换成 B；比值偏低时 BUY：持有 B 换回 A。
type MeanReversion struct {
	cfg    service.StrategyConfig
	symA   string
	symB   string
	ratios *model.RollingWindow
	rearm  Rearm
	logger *zap.Logger
}

func NewMeanReversion(cfg service.StrategyConfig, logger *zap.Logger) *MeanReversion {
	syms := cfg.Symbols()
	return &MeanReversion{
		cfg:    cfg,
		symA:   syms[0],
		symB:   syms[1],
		ratios: model.NewRollingWindow(warmupBars(cfg.MeanReversion.Window)),
		rearm:  NewRearm(),
		logger: logger,
	}
}

func (s *MeanReversion) Name() string      { return service.FamilyMeanReversion }
func (s *MeanReversion) Symbols() []string { return []string{s.symA, s.symB} }
func (s *MeanReversion) Warmup() int       { return service.HistoryGate(s.cfg.MeanReversion.Window) }

func (s *MeanReversion) SeedAsset() string {
	if s.cfg.MeanReversion.StartAsset == s.cfg.MeanReversion.AssetB {
		return s.symB
	}
	return s.symA
}

func (s *MeanReversion) Reconfigure(cfg service.StrategyConfig) error {
	if err := checkReconfigure(s.cfg, cfg); err != nil {
		return err
	}
	s.cfg = cfg
	s.ratios.Resize(warmupBars(cfg.MeanReversion.Window))
	return nil
}

// Observe 只把本帧比值写入窗口，不触发信号
func (s *MeanReversion) Observe(frame model.Frame) model.Indicators {
	sample, ok := s.push(frame)
	if !ok {
		return model.Indicators{}
	}
	return sample.ind
}

type ratioSample struct {
	priceA  float64
	ratio   float64
	outlier bool
	ready   bool
	ind     model.Indicators
}

// push 先做异常值检测，再写入窗口，窗口里永远是夹过的值
func (s *MeanReversion) push(frame model.Frame) (ratioSample, bool) {
	cfg := s.cfg.MeanReversion
	pa, okA := frame.Price(s.symA)
	pb, okB := frame.Price(s.symB)
	if !okA || !okB {
		return ratioSample{}, false
	}
	ratio := pa / pb
	gate := service.HistoryGate(cfg.Window)

	outlier := false
	if s.ratios.Len() >= gate {
		mean, std := ta.RollingMeanStd(s.ratios.Closes(), cfg.Window)
		prev, _ := s.ratios.Last()
		var clamped float64
		clamped, outlier = ClampOutlier(ratio, prev.Close, mean, std, cfg.OutlierSigma, cfg.MaxRatioJump)
		if outlier {
			s.logger.Warn("Ratio outlier clamped",
				zap.Float64("Raw", ratio),
				zap.Float64("Clamped", clamped),
				zap.Float64("Mean", mean),
				zap.Float64("Std", std))
			ratio = clamped
		}
	}
	s.ratios.PushValue(ratio)

	closes := s.ratios.Closes()
	mean, std := ta.RollingMeanStd(closes, cfg.Window)
	return ratioSample{
		priceA:  pa,
		ratio:   ratio,
		outlier: outlier,
		ready:   len(closes) >= gate,
		ind:     model.Indicators{Value: ratio, Mean: mean, Std: std, ZScore: ta.ZScore(ratio, mean, std)},
	}, true
}

func (s *MeanReversion) Evaluate(frame model.Frame, pos model.PositionState) model.Decision {
	cfg := s.cfg.MeanReversion
	sample, ok := s.push(frame)
	if !ok {
		return model.NoAction(model.ReasonMissingPrice)
	}
	ratio, pa, ind := sample.ratio, sample.priceA, sample.ind
	z, std := ind.ZScore, ind.Std

	if !sample.ready {
		d := model.NoAction(model.ReasonNotEnoughHistory)
		d.Indicators = ind
		return d
	}
	if sample.outlier {
		d := model.NoAction(model.ReasonOutlier)
		d.IsOutlier = true
		d.Indicators = ind
		return d
	}

	var sign int
	var buyReason, sellReason model.Reason
	conf := 1.0
	if cfg.UsesThresholds() {
		buyReason, sellReason = model.ReasonThresholdBuy, model.ReasonThresholdSell
		switch {
		case cfg.SellThreshold > 0 && ratio >= cfg.SellThreshold:
			sign = 1
		case cfg.BuyThreshold > 0 && ratio <= cfg.BuyThreshold:
			sign = -1
		}
	} else {
		if std <= 0 {
			d := model.NoAction(model.ReasonStdZero)
			d.Indicators = ind
			return d
		}
		buyReason, sellReason = model.ReasonZEntryBuy, model.ReasonZEntrySell
		wasReady := s.rearm.Ready
		sign = s.rearm.Fire(z, cfg.ZEntry, cfg.ZExit)
		conf = confidence(z, 2*cfg.ZEntry)
		if sign == 0 && math.Abs(z) > cfg.ZEntry && !wasReady {
			d := model.NoAction(model.ReasonNotArmed)
			d.Indicators = ind
			return d
		}
	}

	d := model.Decision{Action: model.ActionNone, Reason: model.ReasonNoSignal, Indicators: ind}
	switch sign {
	case 1:
		// A 相对 B 偏贵：只有持有 A 时才有意义
		if !pos.Holds(s.symA) {
			d.Reason = model.ReasonPositionMismatch
			return d
		}
		d.Action, d.Reason = model.ActionSell, sellReason
		d.Symbol, d.Target, d.Price = s.symA, s.symB, pa
	case -1:
		if !pos.Holds(s.symB) {
			d.Reason = model.ReasonPositionMismatch
			return d
		}
		d.Action, d.Reason = model.ActionBuy, buyReason
		d.Symbol, d.Target, d.Price = s.symA, s.symA, pa
	default:
		return d
	}
	d.Confidence = conf
	return d
}
