// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

// 策略族
const (
	FamilyMeanReversion    = "mean_reversion"
	FamilyBollinger        = "bollinger"
	FamilyTrend            = "trend"
	FamilyRelativeStrength = "relative_strength"
	FamilyAmplification    = "amplification"
	FamilyFreqtrade        = "freqtrade"
)

// Families 所有支持的策略族
var Families = []string{
	FamilyMeanReversion,
	FamilyBollinger,
	FamilyTrend,
	FamilyRelativeStrength,
	FamilyAmplification,
	FamilyFreqtrade,
}

// freqtrade 风格规则
const (
	RulePatternRecognition = "pattern_recognition"
	RuleStrategy001        = "strategy001"
	RuleStrategy002        = "strategy002"
	RuleStrategy003        = "strategy003"
	RuleSupertrend         = "supertrend"
	RuleFisherRSI          = "fisher_rsi"
)

var FreqtradeRules = []string{
	RulePatternRecognition,
	RuleStrategy001,
	RuleStrategy002,
	RuleStrategy003,
	RuleSupertrend,
	RuleFisherRSI,
}

// MeanReversionPairs 允许的配对 (A/B)
var MeanReversionPairs = []string{
	"HBAR/DOGE",
	"ETH/BTC",
	"ADA/XRP",
	"DOGE/SHIB",
	"SOL/MATIC",
	"LINK/AVAX",
}

// MinHistoryFraction 历史长度门槛 = max(MinHistoryBars, floor(window * MinHistoryFraction))
const MinHistoryFraction = 0.5

// MinHistoryBars 任何策略出信号前至少需要的 K 线数
const MinHistoryBars = 5

type Config struct {
	Log       LogConfig                 `mapstructure:"Log"`
	Feed      FeedConfig                `mapstructure:"Feed"`
	Storage   StorageConfig             `mapstructure:"Storage"`
	Instances map[string]InstanceConfig `mapstructure:"Instances"`
}

type LogConfig struct {
	Level string
}

// FeedConfig 行情与历史 K 线来源
type FeedConfig struct {
	WSURL      string
	DataDir    string        // CSV K 线目录
	Source     string        // csv | clickhouse
	StaleAfter time.Duration // 超过该时长没有推送的价格不再使用
}

type StorageConfig struct {
	MySQLDSN      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StatusTTL     time.Duration
	ClickHouse    ClickHouseConfig
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// InstanceConfig 一个策略实例 (实盘模拟盘)
type InstanceConfig struct {
	InitialCash   float64
	PollInterval  time.Duration
	SnapshotEvery int // 每 N 次迭代写一次指标快照
	Lot           LotConfig
	Strategy      StrategyConfig
}

// LotConfig 交易对精度，未单独配置的交易对使用默认值
type LotConfig struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

// StrategyConfig 一次运行内不可变；实盘只能通过 Instance.Apply 整体替换
type StrategyConfig struct {
	Family      string
	Symbol      string   // 单币种策略 (bollinger / trend / freqtrade)
	Universe    []string // 相对强弱的候选池
	QuoteAsset  string
	Interval    string
	FeeRate     float64
	PositionPct float64
	MaxNotional float64 // 0 表示不限
	CooldownSec int

	MeanReversion    MeanReversionConfig
	Bollinger        BollingerConfig
	Trend            TrendConfig
	RelativeStrength RelativeStrengthConfig
	Amplification    AmplificationConfig
	Freqtrade        FreqtradeConfig
}

type MeanReversionConfig struct {
	AssetA     string
	AssetB     string
	StartAsset string // 回测/启动时的初始持仓，默认 AssetA
	Window     int
	ZEntry     float64
	ZExit      float64
	// UseThresholds 或任一阈值 > 0 时使用比值阈值模式，否则使用 z-score 模式。
	// 阈值为 0 的一侧不触发。
	UseThresholds bool
	BuyThreshold  float64
	SellThreshold float64
	OutlierSigma  float64
	MaxRatioJump  float64
}

type BollingerConfig struct {
	Window        int
	NumStd        float64
	StopLossPct   float64
	TakeProfitPct float64
	CloseDust     bool
}

type TrendConfig struct {
	FastWindow    int
	SlowWindow    int
	ATRWindow     int
	ATRMultiplier float64
}

type RelativeStrengthConfig struct {
	Lookback     int
	RebalanceSec int
	TopN         int
	BottomN      int
	MinRSGap     float64
}

type AmplificationConfig struct {
	Base               string
	Candidates         []string
	Conversion         string // 满足条件时优先轮动到该交易对
	Window             int
	MomentumWindow     int
	MinBeta            float64
	MinCorrelation     float64
	SwitchCooldownBars int
	TopN               int
}

type FreqtradeConfig struct {
	Rule string
}

// DefaultStrategyConfig 各策略族的默认参数
func DefaultStrategyConfig(family string) StrategyConfig {
	cfg := StrategyConfig{
		Family:      family,
		QuoteAsset:  "USDT",
		Interval:    "1m",
		FeeRate:     0.001,
		PositionPct: 1.0,
	}
	return cfg.WithDefaults()
}

// WithDefaults 为 0 值字段填入默认值 (FeeRate / CooldownSec 的 0 是合法值，不覆盖)
func (c StrategyConfig) WithDefaults() StrategyConfig {
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.PositionPct == 0 {
		c.PositionPct = 1.0
	}

	mr := &c.MeanReversion
	if mr.Window == 0 {
		mr.Window = 100
	}
	if mr.ZEntry == 0 {
		mr.ZEntry = 3.0
	}
	if mr.ZExit == 0 {
		mr.ZExit = 0.4
	}
	if mr.OutlierSigma == 0 {
		mr.OutlierSigma = 5.0
	}
	if mr.MaxRatioJump == 0 {
		mr.MaxRatioJump = 0.08
	}
	if mr.StartAsset == "" {
		mr.StartAsset = mr.AssetA
	}

	bb := &c.Bollinger
	if bb.Window == 0 {
		bb.Window = 20
	}
	if bb.NumStd == 0 {
		bb.NumStd = 2.0
	}
	if bb.StopLossPct == 0 {
		bb.StopLossPct = 0.05
	}
	if bb.TakeProfitPct == 0 {
		bb.TakeProfitPct = 0.15
	}

	tr := &c.Trend
	if tr.FastWindow == 0 {
		tr.FastWindow = 12
	}
	if tr.SlowWindow == 0 {
		tr.SlowWindow = 26
	}
	if tr.ATRWindow == 0 {
		tr.ATRWindow = 14
	}
	if tr.ATRMultiplier == 0 {
		tr.ATRMultiplier = 3.0
	}

	rs := &c.RelativeStrength
	if rs.Lookback == 0 {
		rs.Lookback = 30
	}
	if rs.RebalanceSec == 0 {
		rs.RebalanceSec = 300
	}
	if rs.TopN == 0 {
		rs.TopN = 2
	}
	if rs.BottomN == 0 {
		rs.BottomN = 2
	}
	if rs.MinRSGap == 0 {
		rs.MinRSGap = 0.5
	}

	amp := &c.Amplification
	if amp.Window == 0 {
		amp.Window = 30
	}
	if amp.MomentumWindow == 0 {
		amp.MomentumWindow = 3
	}
	if amp.MinBeta == 0 {
		amp.MinBeta = 1.1
	}
	if amp.MinCorrelation == 0 {
		amp.MinCorrelation = 0.2
	}
	if amp.SwitchCooldownBars == 0 {
		amp.SwitchCooldownBars = 3
	}
	if amp.TopN == 0 {
		amp.TopN = 3
	}

	if c.Freqtrade.Rule == "" {
		c.Freqtrade.Rule = RuleStrategy002
	}
	return c
}

// Symbols 该配置需要订阅的交易对，顺序固定
func (c StrategyConfig) Symbols() []string {
	switch c.Family {
	case FamilyMeanReversion:
		return []string{
			c.MeanReversion.AssetA + c.QuoteAsset,
			c.MeanReversion.AssetB + c.QuoteAsset,
		}
	case FamilyRelativeStrength:
		return append([]string(nil), c.Universe...)
	case FamilyAmplification:
		out := []string{c.Amplification.Base}
		for _, s := range c.Amplification.Candidates {
			if s != c.Amplification.Base && !contains(out, s) {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{c.Symbol}
	}
}

// Validate 在配置生效前调用；返回的错误都包装 ErrInvalidConfig
func (c StrategyConfig) Validate() error {
	if !contains(Families, c.Family) {
		return fmt.Errorf("%w: unknown strategy family %q", ErrInvalidConfig, c.Family)
	}
	if _, err := IntervalDuration(c.Interval); err != nil {
		return err
	}
	if c.QuoteAsset == "" {
		return fmt.Errorf("%w: quote asset is empty", ErrInvalidConfig)
	}
	if c.PositionPct <= 0 || c.PositionPct > 1 {
		return fmt.Errorf("%w: position_pct must be in (0, 1], got %v", ErrInvalidConfig, c.PositionPct)
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		return fmt.Errorf("%w: fee_rate must be in [0, 1), got %v", ErrInvalidConfig, c.FeeRate)
	}
	if c.MaxNotional < 0 || c.CooldownSec < 0 {
		return fmt.Errorf("%w: max_notional and cooldown_sec must be non-negative", ErrInvalidConfig)
	}

	symbols := c.Symbols()
	if len(symbols) == 0 {
		return fmt.Errorf("%w: no symbols configured", ErrInvalidConfig)
	}
	for _, s := range symbols {
		if len(s) <= len(c.QuoteAsset) || !strings.HasSuffix(s, c.QuoteAsset) {
			return fmt.Errorf("%w: symbol %q does not match quote asset %q", ErrInvalidConfig, s, c.QuoteAsset)
		}
	}

	switch c.Family {
	case FamilyMeanReversion:
		return c.MeanReversion.validate()
	case FamilyBollinger:
		return c.Bollinger.validate()
	case FamilyTrend:
		return c.Trend.validate()
	case FamilyRelativeStrength:
		if len(symbols) < 2 {
			return fmt.Errorf("%w: relative strength needs at least 2 symbols", ErrInvalidConfig)
		}
		return c.RelativeStrength.validate()
	case FamilyAmplification:
		return c.Amplification.validate()
	case FamilyFreqtrade:
		if !contains(FreqtradeRules, c.Freqtrade.Rule) {
			return fmt.Errorf("%w: unknown freqtrade rule %q", ErrInvalidConfig, c.Freqtrade.Rule)
		}
	}
	return nil
}

func (m MeanReversionConfig) validate() error {
	if m.AssetA == "" || m.AssetB == "" || m.AssetA == m.AssetB {
		return fmt.Errorf("%w: mean reversion needs two distinct assets", ErrInvalidConfig)
	}
	if !contains(MeanReversionPairs, m.AssetA+"/"+m.AssetB) && !contains(MeanReversionPairs, m.AssetB+"/"+m.AssetA) {
		return fmt.Errorf("%w: pair %s/%s is not supported", ErrInvalidConfig, m.AssetA, m.AssetB)
	}
	if m.StartAsset != "" && m.StartAsset != m.AssetA && m.StartAsset != m.AssetB {
		return fmt.Errorf("%w: start asset %q is not part of the pair", ErrInvalidConfig, m.StartAsset)
	}
	if m.Window < 2 {
		return fmt.Errorf("%w: window must be >= 2", ErrInvalidConfig)
	}
	if m.BuyThreshold < 0 || m.SellThreshold < 0 {
		return fmt.Errorf("%w: ratio thresholds must not be negative", ErrInvalidConfig)
	}
	if m.UsesThresholds() {
		if m.BuyThreshold == 0 && m.SellThreshold == 0 {
			return fmt.Errorf("%w: threshold mode needs buy_threshold or sell_threshold", ErrInvalidConfig)
		}
		if m.BuyThreshold > 0 && m.SellThreshold > 0 && m.BuyThreshold >= m.SellThreshold {
			return fmt.Errorf("%w: buy_threshold must be below sell_threshold", ErrInvalidConfig)
		}
	} else if m.ZEntry <= 0 || m.ZExit < 0 || m.ZExit >= m.ZEntry {
		return fmt.Errorf("%w: need 0 <= z_exit < z_entry", ErrInvalidConfig)
	}
	if m.OutlierSigma <= 0 || m.MaxRatioJump <= 0 {
		return fmt.Errorf("%w: outlier_sigma and max_ratio_jump must be positive", ErrInvalidConfig)
	}
	return nil
}

// UsesThresholds 比值阈值模式
func (m MeanReversionConfig) UsesThresholds() bool {
	return m.UseThresholds || m.BuyThreshold > 0 || m.SellThreshold > 0
}

func (b BollingerConfig) validate() error {
	if b.Window < 2 || b.NumStd <= 0 {
		return fmt.Errorf("%w: bollinger needs window >= 2 and num_std > 0", ErrInvalidConfig)
	}
	if b.StopLossPct < 0 || b.StopLossPct >= 1 || b.TakeProfitPct < 0 {
		return fmt.Errorf("%w: invalid stop loss / take profit", ErrInvalidConfig)
	}
	return nil
}

func (t TrendConfig) validate() error {
	if t.FastWindow < 1 || t.SlowWindow <= t.FastWindow {
		return fmt.Errorf("%w: need 1 <= fast_window < slow_window", ErrInvalidConfig)
	}
	if t.ATRWindow < 1 || t.ATRMultiplier <= 0 {
		return fmt.Errorf("%w: atr_window and atr_multiplier must be positive", ErrInvalidConfig)
	}
	return nil
}

func (r RelativeStrengthConfig) validate() error {
	if r.Lookback < 2 || r.TopN < 1 || r.BottomN < 1 {
		return fmt.Errorf("%w: need lookback >= 2 and top_n, bottom_n >= 1", ErrInvalidConfig)
	}
	if r.RebalanceSec < 0 || r.MinRSGap < 0 {
		return fmt.Errorf("%w: rebalance_sec and min_rs_gap must be non-negative", ErrInvalidConfig)
	}
	return nil
}

func (a AmplificationConfig) validate() error {
	if a.Base == "" || len(a.Candidates) == 0 {
		return fmt.Errorf("%w: amplification needs a base and candidates", ErrInvalidConfig)
	}
	if a.Conversion != "" && !contains(a.Candidates, a.Conversion) {
		return fmt.Errorf("%w: conversion %q is not a candidate", ErrInvalidConfig, a.Conversion)
	}
	if a.Window < 3 || a.MomentumWindow < 1 || a.MomentumWindow >= a.Window {
		return fmt.Errorf("%w: need window >= 3 and 1 <= momentum_window < window", ErrInvalidConfig)
	}
	if a.SwitchCooldownBars < 0 || a.TopN < 1 {
		return fmt.Errorf("%w: invalid switch cooldown or top_n", ErrInvalidConfig)
	}
	return nil
}

// HistoryGate 决策前需要的最少历史长度
func HistoryGate(window int) int {
	return max(int(float64(window)*MinHistoryFraction), MinHistoryBars)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LoadConfig 读取 .env 与 config.yaml；ENGINE_ 前缀的环境变量覆盖文件值
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	// 设置配置文件的名称、类型和路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Feed.Source", "csv")
	v.SetDefault("Feed.StaleAfter", "2m")
	v.SetDefault("Storage.StatusTTL", "10m")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found in %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for name, inst := range cfg.Instances {
		inst.Strategy = inst.Strategy.WithDefaults()
		if inst.InitialCash <= 0 {
			inst.InitialCash = 1000
		}
		if inst.PollInterval <= 0 {
			d, err := IntervalDuration(inst.Strategy.Interval)
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", name, err)
			}
			inst.PollInterval = d
		}
		if inst.SnapshotEvery <= 0 {
			inst.SnapshotEvery = 1
		}
		if err := inst.Strategy.Validate(); err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		cfg.Instances[name] = inst
	}
	return &cfg, nil
}
