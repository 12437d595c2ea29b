package engine

import (
	"context"
	"time"

	"crypto-strategy-engine/internal/model"

	"go.uber.org/zap"
)

// FrameSource 实盘行情：返回 at 时刻所有订阅交易对的最新价格
type FrameSource interface {
	Frame(ctx context.Context, at time.Time) (model.Frame, error)
}

// Recorder 持久化一次迭代的全部产出，要么全部写入要么全部回滚
type Recorder interface {
	Begin(ctx context.Context) (Batch, error)
}

type Batch interface {
	AddFill(instance string, fill model.Fill) error
	AddEquity(instance string, point model.EquityPoint) error
	AddSnapshot(snap model.Snapshot) error
	Commit() error
	Rollback() error
}

// StatusSink 最新状态的缓存 (非权威)
type StatusSink interface {
	PutStatus(ctx context.Context, status model.InstanceStatus) error
}

// Runner 实盘循环：每个 tick 取一个 Frame，交给 Instance.Step，再持久化。
// ctx 取消或 ticks 关闭时退出；进行中的迭代会完成，不会被取消打断。
type Runner struct {
	inst     *Instance
	source   FrameSource
	recorder Recorder
	status   StatusSink
	ticks    <-chan time.Time
	logger   *zap.Logger
}

func NewRunner(inst *Instance, source FrameSource, recorder Recorder, status StatusSink, ticks <-chan time.Time, logger *zap.Logger) *Runner {
	return &Runner{
		inst:     inst,
		source:   source,
		recorder: recorder,
		status:   status,
		ticks:    ticks,
		logger:   logger.With(zap.String("Instance", inst.Name())),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner started", zap.Strings("Symbols", r.inst.Symbols()))
	defer r.logger.Info("Runner stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case at, ok := <-r.ticks:
			if !ok {
				return nil
			}
			r.iterate(ctx, at)
		}
	}
}

func (r *Runner) iterate(ctx context.Context, at time.Time) {
	frame, err := r.source.Frame(ctx, at)
	if err != nil {
		r.logger.Warn("Frame unavailable, iteration skipped", zap.Error(err))
		return
	}

	// 下单和落库不跟随停止信号中断
	stepCtx := context.WithoutCancel(ctx)
	res, err := r.inst.Step(stepCtx, frame)
	if err != nil {
		r.logger.Error("Step failed", zap.Error(err), zap.Int("UnreconciledFills", len(res.Unreconciled)))
	}
	if !res.Decision.IsNone() {
		r.logger.Info("NEW TRADING SIGNAL", zap.Stringer("Decision", res.Decision))
	}

	if err := r.persist(stepCtx, res); err != nil {
		r.logger.Error("Persist iteration failed", zap.Error(err))
	}
	if r.status != nil {
		if err := r.status.PutStatus(stepCtx, r.inst.Status()); err != nil {
			r.logger.Warn("Status cache update failed", zap.Error(err))
		}
	}
}

func (r *Runner) persist(ctx context.Context, res StepResult) error {
	if r.recorder == nil {
		return nil
	}
	batch, err := r.recorder.Begin(ctx)
	if err != nil {
		return err
	}
	name := r.inst.Name()
	write := func() error {
		for _, f := range res.Fills {
			if err := batch.AddFill(name, f); err != nil {
				return err
			}
		}
		for _, f := range res.Unreconciled {
			f.Reason = model.Reason(string(f.Reason) + ":unreconciled")
			if err := batch.AddFill(name, f); err != nil {
				return err
			}
		}
		if err := batch.AddEquity(name, res.Equity); err != nil {
			return err
		}
		if res.Snapshot != nil {
			return batch.AddSnapshot(*res.Snapshot)
		}
		return nil
	}
	if err := write(); err != nil {
		if rbErr := batch.Rollback(); rbErr != nil {
			r.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return batch.Commit()
}
