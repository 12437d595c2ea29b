package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/position"
	"crypto-strategy-engine/internal/service"
	"crypto-strategy-engine/internal/strategy"

	"go.uber.org/zap"
)

// StepResult 一次迭代的产出，交给调用方持久化
type StepResult struct {
	Time     time.Time
	Decision model.Decision
	Fills    []model.Fill
	Equity   model.EquityPoint
	Snapshot *model.Snapshot
	// Unreconciled 轮动第二腿失败时已经成交的卖出腿
	Unreconciled []model.Fill
}

// FeeSetter 手续费随配置变化的执行器
type FeeSetter interface {
	SetFeeRate(feeRate float64)
}

// Instance 一个策略实例：策略、账本和执行器。
// 实盘 Runner 和回测模拟器都只通过 Step 推进，信号逻辑只有一份。
type Instance struct {
	mu sync.Mutex

	name    string
	cfg     service.InstanceConfig
	strat   strategy.Strategy
	trader  *position.Trader
	exec    position.Executor
	logger  *zap.Logger
	bars    int
	seeded  bool
	lastDec model.Decision
	updated time.Time
}

func NewInstance(name string, cfg service.InstanceConfig, exec position.Executor, symbols position.SymbolInfo, logger *zap.Logger) (*Instance, error) {
	logger = logger.With(zap.String("Instance", name))
	strat, err := strategy.New(cfg.Strategy, logger)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", name, err)
	}
	if symbols == nil {
		symbols = position.StaticSymbols{Default: position.LotSize(cfg.Lot)}
	}
	book := position.NewBook(cfg.InitialCash)
	trader := position.NewTrader(book, exec, symbols, sizingOf(cfg.Strategy), logger)

	return &Instance{
		name:   name,
		cfg:    cfg,
		strat:  strat,
		trader: trader,
		exec:   exec,
		logger: logger,
	}, nil
}

func sizingOf(cfg service.StrategyConfig) position.Sizing {
	return position.Sizing{
		PositionPct: cfg.PositionPct,
		FeeRate:     cfg.FeeRate,
		MaxNotional: cfg.MaxNotional,
	}
}

func (in *Instance) Name() string      { return in.name }
func (in *Instance) Symbols() []string { return in.strat.Symbols() }

// Step 处理一个 Frame：估值、决策、执行、记录净值
func (in *Instance) Step(ctx context.Context, frame model.Frame) (StepResult, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.trader.Mark(frame.Prices())
	book := in.trader.Book()

	in.bars++
	res := StepResult{Time: frame.Time}
	var dec model.Decision
	var err error
	if seeder, ok := in.strat.(strategy.Seeder); ok && !in.seeded && in.bars >= in.strat.Warmup() {
		// 轮动策略先建立初始持仓；本帧只更新历史，不评估信号
		dec = model.NoAction(model.ReasonSeed)
		dec.Indicators = seeder.Observe(frame)
		res.Fills, err = in.seed(ctx, frame, seeder.SeedAsset())
	} else {
		dec = in.strat.Evaluate(frame, book.Position())
		if in.bars < in.strat.Warmup() {
			dec.Action = model.ActionNone
			dec.Reason = model.ReasonNotEnoughHistory
		}
		if !dec.IsNone() {
			res.Fills, res.Unreconciled, err = in.execute(ctx, frame, dec)
		}
	}

	in.lastDec = dec
	in.updated = frame.Time
	res.Decision = dec
	res.Equity = model.EquityPoint{Time: frame.Time, Equity: book.Equity()}
	if every := in.cfg.SnapshotEvery; every > 0 && in.bars%every == 0 {
		res.Snapshot = &model.Snapshot{
			Time:       frame.Time,
			Instance:   in.name,
			Strategy:   in.strat.Name(),
			Decision:   dec,
			Position:   book.Position(),
			Equity:     book.Equity(),
			Indicators: dec.Indicators,
		}
	}
	return res, err
}

func (in *Instance) seed(ctx context.Context, frame model.Frame, asset string) ([]model.Fill, error) {
	if !in.trader.Book().Position().IsFlat() {
		in.seeded = true
		return nil, nil
	}
	price, ok := frame.Price(asset)
	if !ok {
		return nil, nil
	}
	fill, err := in.trader.Open(ctx, frame.Time, asset, price, model.ReasonSeed)
	if err != nil {
		if skippable(err) {
			in.logger.Warn("Seed position skipped", zap.String("Asset", asset), zap.Error(err))
			in.seeded = true
			return nil, nil
		}
		return nil, err
	}
	in.seeded = true
	return []model.Fill{fill}, nil
}

// execute 决策转成交易。数量或名义金额不足不算错误。
func (in *Instance) execute(ctx context.Context, frame model.Frame, dec model.Decision) ([]model.Fill, []model.Fill, error) {
	pos := in.trader.Book().Position()
	logger := in.logger.With(zap.Stringer("Decision", dec))

	var fills []model.Fill
	var err error
	switch {
	case dec.Target != "":
		toPrice, ok := frame.Price(dec.Target)
		if !ok {
			logger.Warn("Target price missing, decision skipped")
			return nil, nil, nil
		}
		if pos.IsFlat() {
			var fill model.Fill
			fill, err = in.trader.Open(ctx, frame.Time, dec.Target, toPrice, dec.Reason)
			if err == nil {
				fills = []model.Fill{fill}
			}
		} else if pos.Asset != dec.Target {
			fromPrice, ok := frame.Price(pos.Asset)
			if !ok {
				fromPrice = in.trader.Book().LastPrice(pos.Asset)
			}
			fills, err = in.trader.Rotate(ctx, frame.Time, dec.Target, fromPrice, toPrice, dec.Reason)
		}

	case dec.Action == model.ActionBuy:
		if !pos.IsFlat() {
			return nil, nil, nil
		}
		var fill model.Fill
		fill, err = in.trader.Open(ctx, frame.Time, dec.Symbol, dec.Price, dec.Reason)
		if err == nil {
			fills = []model.Fill{fill}
		}

	case dec.Action == model.ActionSell:
		if !pos.Holds(dec.Symbol) {
			return nil, nil, nil
		}
		var fill model.Fill
		fill, err = in.trader.Close(ctx, frame.Time, dec.Price, dec.Reason)
		if errors.Is(err, position.ErrQuantityTooSmall) && in.closesDust() {
			fill, err = in.trader.WriteOffDust(frame.Time)
		}
		if err == nil {
			fills = []model.Fill{fill}
		}
	}

	if err == nil {
		if len(fills) > 0 {
			logger.Info("Decision executed", zap.Int("Fills", len(fills)))
		}
		return fills, nil, nil
	}

	var rerr *position.RotationError
	if errors.As(err, &rerr) {
		return nil, []model.Fill{rerr.SellFill}, err
	}
	if skippable(err) {
		logger.Warn("Decision not executable", zap.Error(err))
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("execute %s: %w", dec.Action, err)
}

func (in *Instance) closesDust() bool {
	return in.cfg.Strategy.Family == service.FamilyBollinger && in.cfg.Strategy.Bollinger.CloseDust
}

func skippable(err error) bool {
	return errors.Is(err, position.ErrQuantityTooSmall) ||
		errors.Is(err, position.ErrMinNotional) ||
		errors.Is(err, position.ErrPositionOpen)
}

// Apply 整体替换策略配置，下一个 Frame 生效。
// 返回当前生效的配置：失败时是旧配置。
func (in *Instance) Apply(cfg service.StrategyConfig) (service.StrategyConfig, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.strat.Reconfigure(cfg); err != nil {
		in.logger.Warn("Config update rejected", zap.Error(err))
		return in.cfg.Strategy, err
	}
	in.cfg.Strategy = cfg
	in.trader.SetSizing(sizingOf(cfg))
	if fs, ok := in.exec.(FeeSetter); ok {
		fs.SetFeeRate(cfg.FeeRate)
	}
	in.logger.Info("Config updated", zap.String("Strategy", cfg.Family))
	return cfg, nil
}

func (in *Instance) Config() service.StrategyConfig {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cfg.Strategy
}

// Status 只读视图
func (in *Instance) Status() model.InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()

	book := in.trader.Book()
	return model.InstanceStatus{
		Name:         in.name,
		Strategy:     in.strat.Name(),
		Symbols:      in.strat.Symbols(),
		Position:     book.Position(),
		Cash:         book.Cash(),
		Equity:       book.Equity(),
		MaxEquity:    book.MaxEquity(),
		Bars:         in.bars,
		Fills:        len(book.Fills()),
		LastDecision: in.lastDec,
		UpdatedAt:    in.updated,
	}
}

// Fills 账本中的全部成交
func (in *Instance) Fills() []model.Fill {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.trader.Book().Fills()
}
