package strategy

import (
	"testing"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/pkg/ta"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func frameAt(i int, prices map[string]float64) model.Frame {
	ts := t0.Add(time.Duration(i) * time.Minute)
	f := model.NewFrame(ts)
	for sym, p := range prices {
		f.Candles[sym] = model.FlatCandle(sym, ts, p)
	}
	return f
}

// compound 从 start 开始按收益率序列生成价格
func compound(start float64, n int, returns ...float64) []float64 {
	out := []float64{start}
	for i := 1; i < n; i++ {
		out = append(out, out[i-1]*(1+returns[(i-1)%len(returns)]))
	}
	return out
}

func holding(symbol string, entry float64) model.PositionState {
	return model.PositionState{Asset: symbol, Quantity: 10, EntryPrice: entry, PeakPrice: entry}
}

func mrConfig() service.StrategyConfig {
	cfg := service.DefaultStrategyConfig(service.FamilyMeanReversion)
	cfg.MeanReversion.AssetA = "HBAR"
	cfg.MeanReversion.AssetB = "DOGE"
	cfg.MeanReversion.Window = 20
	return cfg
}

func singleConfig(family, symbol string) service.StrategyConfig {
	cfg := service.DefaultStrategyConfig(family)
	cfg.Symbol = symbol
	return cfg
}

func TestRearmSequence(t *testing.T) {
	r := NewRearm()
	var got []int
	for _, z := range []float64{0, 3.5, 3.2, 0.1, 3.6} {
		got = append(got, r.Fire(z, 2, 0.5))
	}
	assert.Equal(t, []int{0, 1, 0, 0, 1}, got)

	// 反方向不需要先回落
	assert.Equal(t, -1, r.Fire(-3, 2, 0.5))
	assert.Equal(t, 0, r.Fire(-3, 2, 0.5))
}

func TestClampOutlier(t *testing.T) {
	clamped, ok := ClampOutlier(1.5, 1.0, 1.0, 0.01, 5, 0.08)
	require.True(t, ok)
	assert.InDelta(t, 1.05, clamped, 1e-12)
	assert.InDelta(t, 5*0.01, clamped-1.0, 1e-12)

	clamped, ok = ClampOutlier(0.5, 1.0, 1.0, 0.01, 5, 0.08)
	require.True(t, ok)
	assert.InDelta(t, 0.95, clamped, 1e-12)

	_, ok = ClampOutlier(1.04, 1.0, 1.0, 0.01, 5, 0.08)
	assert.False(t, ok, "inside sigma band")

	_, ok = ClampOutlier(1.5, 1.45, 1.0, 0.01, 5, 0.08)
	assert.False(t, ok, "relative jump too small")

	_, ok = ClampOutlier(9, 1, 1, 0, 5, 0.08)
	assert.False(t, ok, "zero std never clamps")
}

func TestMeanReversionThresholdGating(t *testing.T) {
	cfg := mrConfig()
	cfg.MeanReversion.BuyThreshold = 0.9
	cfg.MeanReversion.SellThreshold = 1.1
	s := NewMeanReversion(cfg, zap.NewNop())
	assert.Equal(t, []string{"HBARUSDT", "DOGEUSDT"}, s.Symbols())
	assert.Equal(t, 10, s.Warmup())
	assert.Equal(t, "HBARUSDT", s.SeedAsset())

	flat := model.PositionState{}
	step := 0
	eval := func(ratio float64, pos model.PositionState) model.Decision {
		d := s.Evaluate(frameAt(step, map[string]float64{"HBARUSDT": ratio, "DOGEUSDT": 1}), pos)
		step++
		return d
	}

	for i := 0; i < 9; i++ {
		assert.Equal(t, model.ReasonNotEnoughHistory, eval(1, flat).Reason)
	}
	assert.Equal(t, model.ReasonNoSignal, eval(1, flat).Reason)

	// 比值偏高但没有持有 A
	d := eval(1.2, flat)
	assert.Equal(t, model.ActionNone, d.Action)
	assert.Equal(t, model.ReasonPositionMismatch, d.Reason)

	d = eval(1.2, holding("HBARUSDT", 1))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonThresholdSell, d.Reason)
	assert.Equal(t, "HBARUSDT", d.Symbol)
	assert.Equal(t, "DOGEUSDT", d.Target)

	d = eval(0.8, holding("HBARUSDT", 1))
	assert.Equal(t, model.ReasonPositionMismatch, d.Reason)

	d = eval(0.8, holding("DOGEUSDT", 1))
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonThresholdBuy, d.Reason)
	assert.Equal(t, "HBARUSDT", d.Target)
}

func TestMeanReversionSingleSidedThreshold(t *testing.T) {
	cfg := mrConfig()
	cfg.MeanReversion.UseThresholds = true
	cfg.MeanReversion.SellThreshold = 1.1
	require.NoError(t, cfg.Validate())
	s := NewMeanReversion(cfg, zap.NewNop())

	step := 0
	eval := func(ratio float64, pos model.PositionState) model.Decision {
		d := s.Evaluate(frameAt(step, map[string]float64{"HBARUSDT": ratio, "DOGEUSDT": 1}), pos)
		step++
		return d
	}
	for i := 0; i < 10; i++ {
		eval(1, holding("HBARUSDT", 1))
	}

	// 没有配置买入阈值，比值再低也不买回
	d := eval(0.5, holding("DOGEUSDT", 1))
	assert.Equal(t, model.ActionNone, d.Action)
	assert.Equal(t, model.ReasonNoSignal, d.Reason)

	d = eval(1.2, holding("HBARUSDT", 1))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonThresholdSell, d.Reason)
}

func TestMeanReversionMissingPrice(t *testing.T) {
	s := NewMeanReversion(mrConfig(), zap.NewNop())
	d := s.Evaluate(frameAt(0, map[string]float64{"HBARUSDT": 1}), model.PositionState{})
	assert.Equal(t, model.ReasonMissingPrice, d.Reason)
}

func TestMeanReversionOutlierClamped(t *testing.T) {
	s := NewMeanReversion(mrConfig(), zap.NewNop())
	var history []float64
	for i := 0; i < 10; i++ {
		r := 1.0
		if i%2 == 1 {
			r = 1.01
		}
		history = append(history, r)
		s.Evaluate(frameAt(i, map[string]float64{"HBARUSDT": r, "DOGEUSDT": 1}), model.PositionState{})
	}
	mean, std := ta.RollingMeanStd(history, 20)

	d := s.Evaluate(frameAt(10, map[string]float64{"HBARUSDT": 2, "DOGEUSDT": 1}), holding("HBARUSDT", 1))
	assert.Equal(t, model.ActionNone, d.Action)
	assert.Equal(t, model.ReasonOutlier, d.Reason)
	assert.True(t, d.IsOutlier)
	assert.InDelta(t, mean+5*std, d.Indicators.Value, 1e-12)

	// 窗口里存的是夹过的值
	last, ok := s.ratios.Last()
	require.True(t, ok)
	assert.InDelta(t, mean+5*std, last.Close, 1e-12)
}

func TestMeanReversionReconfigure(t *testing.T) {
	s := NewMeanReversion(mrConfig(), zap.NewNop())

	next := mrConfig()
	next.MeanReversion.Window = 40
	require.NoError(t, s.Reconfigure(next))
	assert.Equal(t, 40, s.ratios.Cap())

	other := mrConfig()
	other.MeanReversion.AssetA = "ETH"
	other.MeanReversion.AssetB = "BTC"
	assert.ErrorIs(t, s.Reconfigure(other), service.ErrInvalidConfig)

	bad := mrConfig()
	bad.MeanReversion.ZExit = 5
	assert.ErrorIs(t, s.Reconfigure(bad), service.ErrInvalidConfig)
	assert.Equal(t, 40, s.cfg.MeanReversion.Window)
}

func TestBollingerSignals(t *testing.T) {
	newWarm := func() *Bollinger {
		s := NewBollinger(singleConfig(service.FamilyBollinger, "BTCUSDT"), zap.NewNop())
		for i := 0; i < 20; i++ {
			d := s.Evaluate(frameAt(i, map[string]float64{"BTCUSDT": 100}), model.PositionState{})
			if i >= 9 {
				assert.Equal(t, model.ReasonNoSignal, d.Reason)
			}
		}
		return s
	}

	s := newWarm()
	d := s.Evaluate(frameAt(20, map[string]float64{"BTCUSDT": 80}), model.PositionState{})
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonLowerBand, d.Reason)
	assert.InDelta(t, 90.2822, d.Indicators.LowerBand, 1e-3)

	d = s.Evaluate(frameAt(21, map[string]float64{"BTCUSDT": 100}), holding("BTCUSDT", 80))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonTakeProfit, d.Reason)

	s = newWarm()
	d = s.Evaluate(frameAt(20, map[string]float64{"BTCUSDT": 94}), holding("BTCUSDT", 100))
	assert.Equal(t, model.ReasonStopLoss, d.Reason)

	s = newWarm()
	d = s.Evaluate(frameAt(20, map[string]float64{"BTCUSDT": 104}), holding("BTCUSDT", 100))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonUpperBand, d.Reason)
}

func TestBollingerCooldown(t *testing.T) {
	cfg := singleConfig(service.FamilyBollinger, "BTCUSDT")
	cfg.CooldownSec = 300
	s := NewBollinger(cfg, zap.NewNop())
	for i := 0; i < 20; i++ {
		s.Evaluate(frameAt(i, map[string]float64{"BTCUSDT": 100}), model.PositionState{})
	}
	pos := model.PositionState{LastFillTime: t0.Add(19 * time.Minute)}
	d := s.Evaluate(frameAt(20, map[string]float64{"BTCUSDT": 80}), pos)
	assert.Equal(t, model.ReasonCooldown, d.Reason)
}

func TestTrendCrossAndStops(t *testing.T) {
	cfg := singleConfig(service.FamilyTrend, "ETHUSDT")
	cfg.Trend = service.TrendConfig{FastWindow: 3, SlowWindow: 6, ATRWindow: 3, ATRMultiplier: 3}
	s := NewTrend(cfg, zap.NewNop())
	assert.Equal(t, 6, s.Warmup())

	for i := 0; i < 5; i++ {
		d := s.Evaluate(frameAt(i, map[string]float64{"ETHUSDT": 100 + float64(i)}), model.PositionState{})
		assert.Equal(t, model.ReasonNotEnoughHistory, d.Reason)
	}
	d := s.Evaluate(frameAt(5, map[string]float64{"ETHUSDT": 105}), model.PositionState{})
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonEMACrossUp, d.Reason)
	assert.Greater(t, d.Indicators.FastEMA, d.Indicators.SlowEMA)

	for i := 6; i < 10; i++ {
		d = s.Evaluate(frameAt(i, map[string]float64{"ETHUSDT": 100 + float64(i)}), holding("ETHUSDT", 105))
		assert.Equal(t, model.ReasonNoSignal, d.Reason)
	}

	// 峰值远高于当前价，ATR=1
	pos := holding("ETHUSDT", 105)
	pos.PeakPrice = 200
	d = s.Evaluate(frameAt(10, map[string]float64{"ETHUSDT": 110}), pos)
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonTrailingStop, d.Reason)

	d = s.Evaluate(frameAt(11, map[string]float64{"ETHUSDT": 100}), holding("ETHUSDT", 105))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonEMACrossDown, d.Reason)
}

func TestRankAndPairSpreads(t *testing.T) {
	ranked := Rank(map[string]float64{"BUSDT": 1, "AUSDT": 1, "CUSDT": 3, "DUSDT": -2})
	require.Len(t, ranked, 4)
	assert.Equal(t, "CUSDT", ranked[0].Symbol)
	assert.Equal(t, "AUSDT", ranked[1].Symbol)
	assert.Equal(t, "BUSDT", ranked[2].Symbol)

	spreads := PairSpreads(ranked, 2, 2)
	require.Len(t, spreads, 2)
	assert.Equal(t, model.Spread{Long: "CUSDT", Short: "DUSDT", LongScore: 3, ShortScore: -2, Gap: 5}, spreads[0])
	assert.Equal(t, "AUSDT", spreads[1].Long)
	assert.Equal(t, "BUSDT", spreads[1].Short)

	assert.Len(t, PairSpreads(ranked[:3], 2, 2), 1)
}

func rsConfig() service.StrategyConfig {
	cfg := service.DefaultStrategyConfig(service.FamilyRelativeStrength)
	cfg.Universe = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}
	cfg.RelativeStrength = service.RelativeStrengthConfig{Lookback: 5, RebalanceSec: 300, TopN: 1, BottomN: 1, MinRSGap: 0.5}
	return cfg
}

func rsFrames(n int) []model.Frame {
	btc := compound(100, n, 0.02, 0.01)
	eth := compound(100, n, 0.01, -0.01)
	xrp := compound(100, n, -0.02, -0.01)
	frames := make([]model.Frame, n)
	for i := range frames {
		frames[i] = frameAt(i, map[string]float64{"BTCUSDT": btc[i], "ETHUSDT": eth[i], "SOLUSDT": 50, "XRPUSDT": xrp[i]})
	}
	return frames
}

func TestRelativeStrengthRebalance(t *testing.T) {
	s := NewRelativeStrength(rsConfig(), zap.NewNop())
	frames := rsFrames(11)
	flat := model.PositionState{}

	for i := 0; i < 5; i++ {
		assert.Equal(t, model.ReasonNotEnoughHistory, s.Evaluate(frames[i], flat).Reason)
	}
	d := s.Evaluate(frames[5], flat)
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonRebalance, d.Reason)
	assert.Equal(t, "BTCUSDT", d.Target)
	require.Len(t, d.Spreads, 1)
	assert.Equal(t, "XRPUSDT", d.Spreads[0].Short)
	assert.Greater(t, d.Spreads[0].Gap, 0.5)

	// 买入在 frames[5] 成交，间隔从成交时间算起
	btc := holding("BTCUSDT", 100)
	btc.LastFillTime = frames[5].Time
	d = s.Evaluate(frames[6], btc)
	assert.Equal(t, model.ReasonRebalanceWait, d.Reason)
	for i := 7; i < 10; i++ {
		assert.Equal(t, model.ReasonRebalanceWait, s.Evaluate(frames[i], btc).Reason)
	}
	d = s.Evaluate(frames[10], btc)
	assert.Equal(t, model.ActionNone, d.Action)
	assert.Equal(t, model.ReasonHolding, d.Reason)
}

func TestRelativeStrengthRetriesUnfilledRebalance(t *testing.T) {
	s := NewRelativeStrength(rsConfig(), zap.NewNop())
	frames := rsFrames(8)
	flat := model.PositionState{}
	for i := 0; i < 5; i++ {
		s.Evaluate(frames[i], flat)
	}
	require.Equal(t, model.ActionBuy, s.Evaluate(frames[5], flat).Action)

	// 上一帧的买入没有成交，不进入调仓间隔
	d := s.Evaluate(frames[6], flat)
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonRebalance, d.Reason)

	btc := holding("BTCUSDT", 100)
	btc.LastFillTime = frames[6].Time
	assert.Equal(t, model.ReasonRebalanceWait, s.Evaluate(frames[7], btc).Reason)
}

func TestRelativeStrengthGapTooSmall(t *testing.T) {
	cfg := rsConfig()
	cfg.RelativeStrength.MinRSGap = 100
	s := NewRelativeStrength(cfg, zap.NewNop())
	var d model.Decision
	for _, f := range rsFrames(6) {
		d = s.Evaluate(f, model.PositionState{})
	}
	assert.Equal(t, model.ReasonGapTooSmall, d.Reason)
}

func ampConfig(candidates ...string) service.StrategyConfig {
	cfg := service.DefaultStrategyConfig(service.FamilyAmplification)
	cfg.Amplification = service.AmplificationConfig{
		Base:               "BTCUSDT",
		Candidates:         candidates,
		Window:             5,
		MomentumWindow:     2,
		MinBeta:            1.1,
		MinCorrelation:     0.2,
		SwitchCooldownBars: 3,
		TopN:               1,
	}
	return cfg
}

// ampFrames 候选币收益率 = 倍数 * 基准收益率
func ampFrames(n int, r1, r2 float64, multipliers map[string]float64) []model.Frame {
	series := map[string][]float64{"BTCUSDT": compound(100, n, r1, r2)}
	for sym, k := range multipliers {
		series[sym] = compound(10, n, k*r1, k*r2)
	}
	frames := make([]model.Frame, n)
	for i := range frames {
		prices := make(map[string]float64)
		for sym, s := range series {
			prices[sym] = s[i]
		}
		frames[i] = frameAt(i, prices)
	}
	return frames
}

func TestAmplificationRotateAndCooldown(t *testing.T) {
	s := NewAmplification(ampConfig("SOLUSDT", "DOGEUSDT"), zap.NewNop())
	assert.Equal(t, 6, s.Warmup())
	frames := ampFrames(8, 0.02, 0.01, map[string]float64{"SOLUSDT": 2, "DOGEUSDT": 0.5})
	flat := model.PositionState{}

	for i := 0; i < 5; i++ {
		assert.Equal(t, model.ReasonNotEnoughHistory, s.Evaluate(frames[i], flat).Reason)
	}
	d := s.Evaluate(frames[5], flat)
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonMomentumUp, d.Reason)
	assert.Equal(t, "SOLUSDT", d.Target)
	assert.InDelta(t, 2, d.Indicators.Scores["SOLUSDT"], 1e-6)
	assert.InDelta(t, 0.5, d.Indicators.Scores["DOGEUSDT"], 1e-6)
	assert.Greater(t, d.Indicators.Momentum, 0.0)

	// 上一帧的轮动已经成交 (这里假设成交的是 DOGE)，冷却期内不再切换
	doge := holding("DOGEUSDT", 10)
	doge.LastFillTime = frames[5].Time
	d = s.Evaluate(frames[6], doge)
	assert.Equal(t, model.ReasonCooldown, d.Reason)

	d = s.Evaluate(frames[7], holding("SOLUSDT", 10))
	assert.Equal(t, model.ReasonHolding, d.Reason)
}

func TestAmplificationCooldownStartsAtFill(t *testing.T) {
	s := NewAmplification(ampConfig("SOLUSDT", "DOGEUSDT"), zap.NewNop())
	frames := ampFrames(10, 0.02, 0.01, map[string]float64{"SOLUSDT": 2, "DOGEUSDT": 0.5})
	flat := model.PositionState{}
	for i := 0; i < 5; i++ {
		s.Evaluate(frames[i], flat)
	}
	require.Equal(t, model.ActionBuy, s.Evaluate(frames[5], flat).Action)

	// 信号没有成交，下一帧照常发出
	d := s.Evaluate(frames[6], flat)
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, "SOLUSDT", d.Target)

	// frames[6] 成交后冷却 SwitchCooldownBars 根
	doge := holding("DOGEUSDT", 10)
	doge.LastFillTime = frames[6].Time
	assert.Equal(t, model.ReasonCooldown, s.Evaluate(frames[7], doge).Reason)
	assert.Equal(t, model.ReasonCooldown, s.Evaluate(frames[8], doge).Reason)
	d = s.Evaluate(frames[9], doge)
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, "SOLUSDT", d.Target)
}

func TestAmplificationPrefersConversion(t *testing.T) {
	cfg := ampConfig("SOLUSDT", "AVAXUSDT")
	cfg.Amplification.Conversion = "AVAXUSDT"
	s := NewAmplification(cfg, zap.NewNop())
	var d model.Decision
	for _, f := range ampFrames(6, 0.02, 0.01, map[string]float64{"SOLUSDT": 2, "AVAXUSDT": 1.5}) {
		d = s.Evaluate(f, model.PositionState{})
	}
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, "AVAXUSDT", d.Target)
}

func TestAmplificationExitsOnNegativeMomentum(t *testing.T) {
	s := NewAmplification(ampConfig("SOLUSDT", "DOGEUSDT"), zap.NewNop())
	frames := ampFrames(6, -0.02, -0.01, map[string]float64{"SOLUSDT": 2, "DOGEUSDT": 0.5})
	for i := 0; i < 5; i++ {
		s.Evaluate(frames[i], holding("SOLUSDT", 10))
	}
	d := s.Evaluate(frames[5], holding("SOLUSDT", 10))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonMomentumDown, d.Reason)
	assert.Equal(t, "SOLUSDT", d.Symbol)
	assert.Empty(t, d.Target)

	s = NewAmplification(ampConfig("SOLUSDT", "DOGEUSDT"), zap.NewNop())
	for _, f := range frames {
		d = s.Evaluate(f, model.PositionState{})
	}
	assert.Equal(t, model.ReasonNoSignal, d.Reason)
}

func TestSummarizeAmplification(t *testing.T) {
	base := compound(100, 20, 0.02, -0.01)
	alts := map[string][]float64{
		"SOLUSDT":  compound(10, 20, 0.04, -0.02),
		"AVAXUSDT": compound(10, 20, 0.03, -0.015),
		"DOGEUSDT": compound(10, 20, 0.01, -0.005),
	}
	cfg := ampConfig("SOLUSDT", "AVAXUSDT", "DOGEUSDT").Amplification

	summary := SummarizeAmplification(base, alts, cfg)
	require.Len(t, summary.Stats, 3)
	assert.Equal(t, "SOLUSDT", summary.Stats[0].Symbol)
	assert.Equal(t, "AVAXUSDT", summary.Stats[1].Symbol)
	assert.Equal(t, "DOGEUSDT", summary.Stats[2].Symbol)
	assert.InDelta(t, 2, summary.Stats[0].Beta, 1e-6)
	assert.InDelta(t, 1, summary.Stats[0].Correlation, 1e-6)
	assert.InDelta(t, 2, summary.Stats[0].UpCapture, 1e-6)
	assert.Equal(t, []string{"SOLUSDT"}, summary.Suggestions)

	cfg.TopN = 3
	assert.Equal(t, []string{"SOLUSDT", "AVAXUSDT"}, SummarizeAmplification(base, alts, cfg).Suggestions)
}

func TestMomentum(t *testing.T) {
	assert.InDelta(t, 0.1, Momentum([]float64{100, 105, 110}, 2), 1e-12)
	assert.Equal(t, 0.0, Momentum([]float64{100}, 2))
}

func TestHighWaveScore(t *testing.T) {
	assert.Equal(t, 100.0, HighWaveScore(model.PriceSample{Open: 100, Close: 101, High: 110, Low: 90}))
	assert.Equal(t, -100.0, HighWaveScore(model.PriceSample{Open: 101, Close: 100, High: 110, Low: 90}))
	assert.Equal(t, 0.0, HighWaveScore(model.PriceSample{Open: 90, Close: 110, High: 111, Low: 89}))
	assert.Equal(t, 0.0, HighWaveScore(model.PriceSample{Open: 1, Close: 1, High: 1, Low: 1}))
}

func candleFrame(i int, symbol string, o, h, l, c float64) model.Frame {
	f := frameAt(i, nil)
	f.Candles[symbol] = model.Candle{Symbol: symbol, Time: f.Time, Open: o, High: h, Low: l, Close: c, Volume: 1}
	return f
}

func TestFreqtradePatternRecognition(t *testing.T) {
	cfg := singleConfig(service.FamilyFreqtrade, "BTCUSDT")
	cfg.Freqtrade.Rule = service.RulePatternRecognition
	s := NewFreqtrade(cfg, zap.NewNop())
	assert.Equal(t, service.MinHistoryBars, s.Warmup())

	for i := 0; i < 4; i++ {
		d := s.Evaluate(candleFrame(i, "BTCUSDT", 101, 110, 90, 100), model.PositionState{})
		assert.Equal(t, model.ReasonNotEnoughHistory, d.Reason)
	}

	d := s.Evaluate(candleFrame(4, "BTCUSDT", 101, 110, 90, 100), model.PositionState{})
	assert.Equal(t, model.ActionBuy, d.Action)
	assert.Equal(t, model.ReasonRuleBuy, d.Reason)

	d = s.Evaluate(candleFrame(5, "BTCUSDT", 100, 110, 90, 101), model.PositionState{})
	assert.Equal(t, model.ActionNone, d.Action)

	d = s.Evaluate(candleFrame(6, "BTCUSDT", 100, 110, 90, 101), holding("BTCUSDT", 100))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Equal(t, model.ReasonRuleSell, d.Reason)
}

func TestEveryFamilyWaitsForMinimumHistory(t *testing.T) {
	bb := singleConfig(service.FamilyBollinger, "BTCUSDT")
	bb.Bollinger.Window = 2
	trend := singleConfig(service.FamilyTrend, "BTCUSDT")
	trend.Trend = service.TrendConfig{FastWindow: 1, SlowWindow: 2, ATRWindow: 1, ATRMultiplier: 3}
	mr := mrConfig()
	mr.MeanReversion.Window = 2
	rs := rsConfig()
	rs.RelativeStrength.Lookback = 2
	rs.RelativeStrength.MinRSGap = 0
	amp := ampConfig("SOLUSDT")
	amp.Amplification.Window = 3
	amp.Amplification.MomentumWindow = 1
	ft := singleConfig(service.FamilyFreqtrade, "BTCUSDT")
	ft.Freqtrade.Rule = service.RulePatternRecognition

	tests := []struct {
		name  string
		strat Strategy
		pos   model.PositionState
	}{
		{"bollinger", NewBollinger(bb, zap.NewNop()), model.PositionState{}},
		{"trend", NewTrend(trend, zap.NewNop()), model.PositionState{}},
		{"mean reversion", NewMeanReversion(mr, zap.NewNop()), holding("HBARUSDT", 100)},
		{"relative strength", NewRelativeStrength(rs, zap.NewNop()), model.PositionState{}},
		{"amplification", NewAmplification(amp, zap.NewNop()), model.PositionState{}},
		{"freqtrade pattern recognition", NewFreqtrade(ft, zap.NewNop()), model.PositionState{}},
	}
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "HBARUSDT", "DOGEUSDT"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.GreaterOrEqual(t, tt.strat.Warmup(), service.MinHistoryBars)
			for i := 0; i < service.MinHistoryBars-1; i++ {
				// 带长上下影线的阴线，pattern_recognition 满足历史后会买入
				f := frameAt(i, nil)
				for _, sym := range symbols {
					f.Candles[sym] = model.Candle{Symbol: sym, Time: f.Time, Open: 100.5, High: 105, Low: 95, Close: 99.5, Volume: 1}
				}
				d := tt.strat.Evaluate(f, tt.pos)
				assert.Equal(t, model.ActionNone, d.Action, "bar %d", i+1)
				assert.Equal(t, model.ReasonNotEnoughHistory, d.Reason, "bar %d", i+1)
			}
		})
	}
}

func TestFreqtradeRules(t *testing.T) {
	cfg := singleConfig(service.FamilyFreqtrade, "BTCUSDT")
	s := NewFreqtrade(cfg, zap.NewNop())
	for i := 0; i < 20; i++ {
		s.Evaluate(frameAt(i, map[string]float64{"BTCUSDT": 100}), model.PositionState{})
	}
	d := s.Evaluate(frameAt(20, map[string]float64{"BTCUSDT": 80}), model.PositionState{})
	assert.Equal(t, model.ActionBuy, d.Action)

	cfg.Freqtrade.Rule = service.RuleFisherRSI
	s = NewFreqtrade(cfg, zap.NewNop())
	for i := 0; i < 39; i++ {
		s.Evaluate(frameAt(i, map[string]float64{"BTCUSDT": 100 + float64(i)}), holding("BTCUSDT", 100))
	}
	d = s.Evaluate(frameAt(39, map[string]float64{"BTCUSDT": 139}), holding("BTCUSDT", 100))
	assert.Equal(t, model.ActionSell, d.Action)
	assert.Greater(t, d.Indicators.Scores["fisher_rsi"], 0.5)

	cfg.Freqtrade.Rule = service.RuleStrategy001
	s = NewFreqtrade(cfg, zap.NewNop())
	assert.Equal(t, 101, s.Warmup())
	d = s.Evaluate(frameAt(0, map[string]float64{"BTCUSDT": 100}), model.PositionState{})
	assert.Equal(t, model.ReasonNotEnoughHistory, d.Reason)
}

func TestEvaluatePairHealth(t *testing.T) {
	good, _ := EvaluatePairHealth([]float64{1, 2, 3, 4}, 10)
	assert.False(t, good)

	good, std := EvaluatePairHealth([]float64{1, 1, 1, 1, 1, 1}, 10)
	assert.False(t, good)
	assert.Equal(t, 0.0, std)

	good, std = EvaluatePairHealth([]float64{1, 1.1, 1, 1.1, 1, 1.1}, 10)
	assert.True(t, good)
	assert.InDelta(t, 0.05, std, 1e-9)
}

func TestSuggestMeanReversionConfig(t *testing.T) {
	base := mrConfig().MeanReversion
	assert.Equal(t, base, SuggestMeanReversionConfig([]float64{1, 2}, base))

	ratios := make([]float64, 100)
	for i := range ratios {
		ratios[i] = 1.0
		if i%2 == 1 {
			ratios[i] = 1.1
		}
	}
	got := SuggestMeanReversionConfig(ratios, base)
	assert.Equal(t, 50, got.Window)
	assert.InDelta(t, 1, got.ZEntry, 1e-9)
	assert.InDelta(t, 0.33, got.ZExit, 1e-9)
	assert.True(t, got.UseThresholds)
	assert.InDelta(t, 0.95, got.BuyThreshold, 1e-9)
	assert.InDelta(t, 1.15, got.SellThreshold, 1e-9)
	assert.Equal(t, base.AssetA, got.AssetA)
}

func TestNewDispatchesFamilies(t *testing.T) {
	configs := map[string]service.StrategyConfig{
		service.FamilyMeanReversion:    mrConfig(),
		service.FamilyBollinger:        singleConfig(service.FamilyBollinger, "BTCUSDT"),
		service.FamilyTrend:            singleConfig(service.FamilyTrend, "BTCUSDT"),
		service.FamilyRelativeStrength: rsConfig(),
		service.FamilyAmplification:    ampConfig("SOLUSDT"),
		service.FamilyFreqtrade:        singleConfig(service.FamilyFreqtrade, "BTCUSDT"),
	}
	for family, cfg := range configs {
		s, err := New(cfg, zap.NewNop())
		require.NoError(t, err, family)
		assert.Equal(t, family, s.Name())
		assert.Equal(t, cfg.Symbols(), s.Symbols())
	}

	_, err := New(singleConfig("grid", "BTCUSDT"), zap.NewNop())
	assert.ErrorIs(t, err, service.ErrInvalidConfig)
}

func TestReconfigureRejectsFamilySwitch(t *testing.T) {
	s := NewBollinger(singleConfig(service.FamilyBollinger, "BTCUSDT"), zap.NewNop())
	err := s.Reconfigure(singleConfig(service.FamilyTrend, "BTCUSDT"))
	assert.ErrorIs(t, err, service.ErrInvalidConfig)
	err = s.Reconfigure(singleConfig(service.FamilyBollinger, "ETHUSDT"))
	assert.ErrorIs(t, err, service.ErrInvalidConfig)
}
