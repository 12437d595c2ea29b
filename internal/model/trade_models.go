package model

import (
	"fmt"
	"time"
)

// Action 定义了信号类型
type Action string

const (
	ActionNone Action = "NONE"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Reason 决策原因
type Reason string

const (
	ReasonNotEnoughHistory Reason = "not_enough_history"
	ReasonOutlier          Reason = "outlier"
	ReasonStdZero          Reason = "std_zero"
	ReasonMissingPrice     Reason = "missing_price"
	ReasonCooldown         Reason = "cooldown"
	ReasonNoSignal         Reason = "no_signal"
	ReasonNotArmed         Reason = "not_armed"
	ReasonPositionMismatch Reason = "position_mismatch"

	ReasonThresholdBuy  Reason = "threshold_buy"
	ReasonThresholdSell Reason = "threshold_sell"
	ReasonZEntryBuy     Reason = "z_entry_buy"
	ReasonZEntrySell    Reason = "z_entry_sell"

	ReasonLowerBand    Reason = "lower_band"
	ReasonUpperBand    Reason = "upper_band"
	ReasonStopLoss     Reason = "stop_loss"
	ReasonTakeProfit   Reason = "take_profit"
	ReasonEMACrossUp   Reason = "ema_cross_up"
	ReasonEMACrossDown Reason = "ema_cross_down"
	ReasonTrailingStop Reason = "trailing_stop"

	ReasonRebalance     Reason = "rebalance"
	ReasonRebalanceWait Reason = "rebalance_wait"
	ReasonGapTooSmall   Reason = "rs_gap_too_small"

	ReasonMomentumUp   Reason = "momentum_up"
	ReasonMomentumDown Reason = "momentum_down"
	ReasonNoCandidate  Reason = "no_candidate"
	ReasonHolding      Reason = "already_holding"

	ReasonRuleBuy  Reason = "rule_buy"
	ReasonRuleSell Reason = "rule_sell"

	ReasonSeed Reason = "seed"
	ReasonDust Reason = "dust"
)

// Indicators 由滚动窗口即时计算，不是状态来源
type Indicators struct {
	Value     float64 `json:"value"`
	Mean      float64 `json:"mean,omitempty"`
	Std       float64 `json:"std,omitempty"`
	ZScore    float64 `json:"z_score,omitempty"`
	FastEMA   float64 `json:"fast_ema,omitempty"`
	SlowEMA   float64 `json:"slow_ema,omitempty"`
	ATR       float64 `json:"atr,omitempty"`
	MA        float64 `json:"ma,omitempty"`
	UpperBand float64 `json:"upper_band,omitempty"`
	LowerBand float64 `json:"lower_band,omitempty"`
	Momentum  float64 `json:"momentum,omitempty"`
	// Scores 横截面打分 (相对强弱、beta 等)
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Spread 相对强弱多空组合
type Spread struct {
	Long       string  `json:"long"`
	Short      string  `json:"short"`
	LongScore  float64 `json:"long_score"`
	ShortScore float64 `json:"short_score"`
	Gap        float64 `json:"rs_gap"`
}

// Decision 是 (指标, 持仓, 配置) 的纯函数结果，不持久化为权威状态
type Decision struct {
	Action     Action     `json:"action"`
	Reason     Reason     `json:"reason"`
	Symbol     string     `json:"symbol,omitempty"`
	Target     string     `json:"target,omitempty"` // 轮动目标：执行后应持有的交易对
	Price      float64    `json:"price,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	IsOutlier  bool       `json:"is_outlier,omitempty"`
	Indicators Indicators `json:"indicators"`
	Spreads    []Spread   `json:"spreads,omitempty"`
}

func NoAction(reason Reason) Decision {
	return Decision{Action: ActionNone, Reason: reason}
}

func (d Decision) IsNone() bool { return d.Action == ActionNone || d.Action == "" }

func (d Decision) String() string {
	if d.Target != "" {
		return fmt.Sprintf("DECISION [%s -> %s] reason=%s price=%.6f conf=%.2f", d.Action, d.Target, d.Reason, d.Price, d.Confidence)
	}
	return fmt.Sprintf("DECISION [%s %s] reason=%s price=%.6f conf=%.2f", d.Action, d.Symbol, d.Reason, d.Price, d.Confidence)
}

// PositionState 一个策略实例独占，只由成交修改
type PositionState struct {
	Asset         string    `json:"asset"` // 空字符串表示空仓
	Quantity      float64   `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	CostBasis     float64   `json:"cost_basis"` // 含手续费的买入成本
	PeakPrice     float64   `json:"peak_price"` // 入场以来最高价 (追踪止损)
	EntryTime     time.Time `json:"entry_time"`
	LastFillTime  time.Time `json:"last_fill_time"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
}

func (p PositionState) IsFlat() bool { return p.Asset == "" || p.Quantity <= 0 }

// Holds 是否持有 symbol
func (p PositionState) Holds(symbol string) bool { return !p.IsFlat() && p.Asset == symbol }

// FillReport 交易所适配层归一化后的成交回报
type FillReport struct {
	FilledQty   float64 `json:"filled_qty"`
	FilledQuote float64 `json:"filled_quote"` // 为 0 时按 FilledQty * 价格估算
	Fee         float64 `json:"fee"`
}

// Quote 成交额，缺失时回退到 qty * price
func (r FillReport) Quote(price float64) float64 {
	if r.FilledQuote > 0 {
		return r.FilledQuote
	}
	return r.FilledQty * price
}

// Fill 成交记录，创建后不可变
type Fill struct {
	Time     time.Time `json:"ts"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Quote    float64   `json:"quote"`
	Fee      float64   `json:"fee"`
	PnL      float64   `json:"pnl"` // realized_pnl_delta
	Reason   Reason    `json:"reason"`
}

func (f Fill) String() string {
	return fmt.Sprintf("FILL [%s %s] %.6f @ %.6f fee=%.6f pnl=%.6f reason=%s", f.Side, f.Symbol, f.Quantity, f.Price, f.Fee, f.PnL, f.Reason)
}

type EquityPoint struct {
	Time   time.Time `json:"ts"`
	Equity float64   `json:"equity"`
}

// Snapshot 周期性指标快照，交给调用方持久化
type Snapshot struct {
	Time       time.Time     `json:"ts"`
	Instance   string        `json:"instance"`
	Strategy   string        `json:"strategy"`
	Decision   Decision      `json:"decision"`
	Position   PositionState `json:"position"`
	Equity     float64       `json:"equity"`
	Indicators Indicators    `json:"indicators"`
}

// InstanceStatus 实例状态的只读视图
type InstanceStatus struct {
	Name         string        `json:"name"`
	Strategy     string        `json:"strategy"`
	Symbols      []string      `json:"symbols"`
	Position     PositionState `json:"position"`
	Cash         float64       `json:"cash"`
	Equity       float64       `json:"equity"`
	MaxEquity    float64       `json:"max_equity"`
	Bars         int           `json:"bars"`
	Fills        int           `json:"fills"`
	LastDecision Decision      `json:"last_decision"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type BacktestResult struct {
	ID           string        `json:"id"`
	Strategy     string        `json:"strategy"`
	Symbols      []string      `json:"symbols"`
	Interval     string        `json:"interval"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Bars         int           `json:"bars"`
	InitialCash  float64       `json:"initial_cash"`
	Trades       []Fill        `json:"trades"`
	EquityCurve  []EquityPoint `json:"equity_curve"`
	FinalBalance float64       `json:"final_balance"`
	ReturnPct    float64       `json:"return_pct"`
	WinRate      float64       `json:"win_rate"`
	MaxDrawdown  float64       `json:"max_drawdown"`
	// Unreconciled 轮动第二腿失败时已成交的第一腿
	Unreconciled []Fill `json:"unreconciled,omitempty"`
}
