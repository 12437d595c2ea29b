package strategy

import (
	"errors"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"go.uber.org/zap"
)

var ErrUnsupported = errors.New("unsupported strategy")

// Strategy 把 (指标, 持仓, 配置) 映射成决策。
// 实现持有自己的滚动历史，Evaluate 每个 Frame 只调用一次且按时间顺序调用。
type Strategy interface {
	Name() string
	Symbols() []string
	// Warmup 回测和实盘都要求的最少 Frame 数
	Warmup() int
	Evaluate(frame model.Frame, pos model.PositionState) model.Decision
	// Reconfigure 下一个 Frame 生效；不允许更换策略族或交易对
	Reconfigure(cfg service.StrategyConfig) error
}

// Seeder 轮动类策略需要先持有一边资产
type Seeder interface {
	SeedAsset() string
	// Observe 建仓那一帧只写入历史，不改变信号状态
	Observe(frame model.Frame) model.Indicators
}

// New 按策略族构造
func New(cfg service.StrategyConfig, logger *zap.Logger) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("Strategy", cfg.Family))

	switch cfg.Family {
	case service.FamilyMeanReversion:
		return NewMeanReversion(cfg, logger), nil
	case service.FamilyBollinger:
		return NewBollinger(cfg, logger), nil
	case service.FamilyTrend:
		return NewTrend(cfg, logger), nil
	case service.FamilyRelativeStrength:
		return NewRelativeStrength(cfg, logger), nil
	case service.FamilyAmplification:
		return NewAmplification(cfg, logger), nil
	case service.FamilyFreqtrade:
		return NewFreqtrade(cfg, logger), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, cfg.Family)
}

// checkReconfigure 策略族和交易对必须保持不变，否则历史窗口失去意义
func checkReconfigure(current, next service.StrategyConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if current.Family != next.Family {
		return fmt.Errorf("%w: cannot switch family %s -> %s", service.ErrInvalidConfig, current.Family, next.Family)
	}
	a, b := current.Symbols(), next.Symbols()
	if len(a) != len(b) {
		return fmt.Errorf("%w: symbol set changed", service.ErrInvalidConfig)
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%w: symbol set changed", service.ErrInvalidConfig)
		}
	}
	return nil
}

func warmupBars(n int) int { return max(n, service.MinHistoryBars) }

// inCooldown 距离上次成交不足 cooldownSec 秒 (按 Frame 时间，不按墙钟)
func inCooldown(pos model.PositionState, now time.Time, cooldownSec int) bool {
	if cooldownSec <= 0 || pos.LastFillTime.IsZero() {
		return false
	}
	return now.Sub(pos.LastFillTime) < time.Duration(cooldownSec)*time.Second
}

func confidence(v, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	c := v / threshold
	if c < 0 {
		c = -c
	}
	if c > 1 {
		c = 1
	}
	return c
}
