package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"crypto-strategy-engine/internal/model"

	"go.uber.org/zap"
)

var ErrPositionOpen = errors.New("position already open")

// 两腿轮动失败的阶段
const (
	StageSell = "sell"
	StageBuy  = "buy"
)

// RotationError 第二腿失败：第一腿已经成交但没有记入账本，需要人工对账
type RotationError struct {
	Stage    string
	From     string
	To       string
	SellFill model.Fill
	Err      error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("rotation %s -> %s failed at %s leg (sold %.8f %s for %.8f): %v",
		e.From, e.To, e.Stage, e.SellFill.Quantity, e.From, e.SellFill.Quote, e.Err)
}

func (e *RotationError) Unwrap() error { return e.Err }

// Sizing 仓位参数
type Sizing struct {
	PositionPct float64
	FeeRate     float64
	MaxNotional float64 // 0 表示不限
}

// InvestableCash = min(cash, cash*pct) / (1 + fee)，保证含手续费成本不超过现金
func InvestableCash(cash float64, s Sizing) float64 {
	if cash <= 0 {
		return 0
	}
	investable := math.Min(cash, cash*s.PositionPct) / (1 + s.FeeRate)
	if s.MaxNotional > 0 && investable > s.MaxNotional {
		investable = s.MaxNotional
	}
	return investable
}

// Trader 把决策变成订单并记账；实盘和回测共用
type Trader struct {
	book    *Book
	exec    Executor
	symbols SymbolInfo
	sizing  Sizing
	logger  *zap.Logger
}

func NewTrader(book *Book, exec Executor, symbols SymbolInfo, sizing Sizing, logger *zap.Logger) *Trader {
	return &Trader{
		book:    book,
		exec:    exec,
		symbols: symbols,
		sizing:  sizing,
		logger:  logger,
	}
}

func (t *Trader) Book() *Book { return t.book }

func (t *Trader) SetSizing(s Sizing) { t.sizing = s }

// Mark 更新账本估值，并把价格同步给模拟执行器
func (t *Trader) Mark(prices map[string]float64) {
	t.book.Mark(prices)
	if m, ok := t.exec.(PriceMarker); ok {
		m.MarkPrices(prices)
	}
}

// Open 空仓时按仓位参数买入 symbol
func (t *Trader) Open(ctx context.Context, ts time.Time, symbol string, price float64, reason model.Reason) (model.Fill, error) {
	if !t.book.Position().IsFlat() {
		return model.Fill{}, fmt.Errorf("%w: holding %s", ErrPositionOpen, t.book.Position().Asset)
	}
	if price <= 0 {
		return model.Fill{}, fmt.Errorf("%w: %s", ErrNoPrice, symbol)
	}

	lot := t.symbols.LotSize(symbol)
	qty := Quantize(InvestableCash(t.book.Cash(), t.sizing)/price, lot)
	if qty == 0 {
		return model.Fill{}, fmt.Errorf("%w: %s", ErrQuantityTooSmall, symbol)
	}
	if err := CheckNotional(qty, price, lot); err != nil {
		return model.Fill{}, err
	}

	report, err := t.place(ctx, symbol, model.SideBuy, qty)
	if err != nil {
		return model.Fill{}, err
	}
	fill := t.book.ApplyBuy(ts, symbol, report.FilledQty, report.Quote(price), report.Fee, reason)
	t.logger.Info("Position opened", zap.Stringer("Fill", fill))
	return fill, nil
}

// Close 卖出全部持仓
func (t *Trader) Close(ctx context.Context, ts time.Time, price float64, reason model.Reason) (model.Fill, error) {
	pos := t.book.Position()
	if pos.IsFlat() {
		return model.Fill{}, ErrNoPosition
	}
	if price <= 0 {
		return model.Fill{}, fmt.Errorf("%w: %s", ErrNoPrice, pos.Asset)
	}

	lot := t.symbols.LotSize(pos.Asset)
	qty := Quantize(pos.Quantity, lot)
	if qty == 0 {
		return model.Fill{}, fmt.Errorf("%w: %s", ErrQuantityTooSmall, pos.Asset)
	}
	if err := CheckNotional(qty, price, lot); err != nil {
		return model.Fill{}, err
	}

	report, err := t.place(ctx, pos.Asset, model.SideSell, qty)
	if err != nil {
		return model.Fill{}, err
	}
	closeAll := Quantize(pos.Quantity-report.FilledQty, lot) == 0
	fill := t.book.ApplySell(ts, report.FilledQty, report.Quote(price), report.Fee, closeAll, reason)
	t.logger.Info("Position closed", zap.Stringer("Fill", fill), zap.Float64("Cash", t.book.Cash()))
	return fill, nil
}

// WriteOffDust 清掉无法下单的零头持仓
func (t *Trader) WriteOffDust(ts time.Time) (model.Fill, error) {
	if t.book.Position().IsFlat() {
		return model.Fill{}, ErrNoPosition
	}
	fill := t.book.WriteOffDust(ts)
	t.logger.Warn("Dust position written off", zap.Stringer("Fill", fill))
	return fill, nil
}

// Rotate 卖出当前持仓，用实际到手的报价资产买入 to。
// 第一腿之前失败不改变任何状态；第二腿失败返回 *RotationError，账本保持轮动前的状态。
func (t *Trader) Rotate(ctx context.Context, ts time.Time, to string, fromPrice, toPrice float64, reason model.Reason) ([]model.Fill, error) {
	pos := t.book.Position()
	if pos.IsFlat() {
		return nil, ErrNoPosition
	}
	from := pos.Asset
	if from == to {
		return nil, nil
	}
	if fromPrice <= 0 || toPrice <= 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPrice, from, to)
	}

	fromLot := t.symbols.LotSize(from)
	qtyFrom := Quantize(pos.Quantity, fromLot)
	if qtyFrom == 0 {
		return nil, fmt.Errorf("%w: %s", ErrQuantityTooSmall, from)
	}
	if err := CheckNotional(qtyFrom, fromPrice, fromLot); err != nil {
		return nil, err
	}

	sellReport, err := t.place(ctx, from, model.SideSell, qtyFrom)
	if err != nil {
		return nil, err
	}
	sellQuote := sellReport.Quote(fromPrice)
	proceeds := sellQuote - sellReport.Fee
	sellFill := model.Fill{
		Time:     ts,
		Symbol:   from,
		Side:     model.SideSell,
		Quantity: sellReport.FilledQty,
		Price:    sellQuote / sellReport.FilledQty,
		Quote:    sellQuote,
		Fee:      sellReport.Fee,
		PnL:      proceeds - pos.CostBasis,
		Reason:   reason,
	}
	fail := func(err error) error {
		rerr := &RotationError{Stage: StageBuy, From: from, To: to, SellFill: sellFill, Err: err}
		t.logger.Error("Rotation second leg failed, manual reconciliation required", zap.Error(rerr))
		return rerr
	}

	toLot := t.symbols.LotSize(to)
	qtyTo := Quantize(proceeds/(1+t.sizing.FeeRate)/toPrice, toLot)
	if qtyTo == 0 {
		return nil, fail(fmt.Errorf("%w: %s", ErrQuantityTooSmall, to))
	}
	if err := CheckNotional(qtyTo, toPrice, toLot); err != nil {
		return nil, fail(err)
	}
	buyReport, err := t.place(ctx, to, model.SideBuy, qtyTo)
	if err != nil {
		return nil, fail(err)
	}

	closeAll := Quantize(pos.Quantity-sellReport.FilledQty, fromLot) == 0
	sold := t.book.ApplySell(ts, sellReport.FilledQty, sellQuote, sellReport.Fee, closeAll, reason)
	bought := t.book.ApplyBuy(ts, to, buyReport.FilledQty, buyReport.Quote(toPrice), buyReport.Fee, reason)
	t.logger.Info("Rotation filled",
		zap.String("From", from),
		zap.String("To", to),
		zap.Float64("PnL", sold.PnL),
		zap.Float64("Cash", t.book.Cash()))
	return []model.Fill{sold, bought}, nil
}

func (t *Trader) place(ctx context.Context, symbol string, side model.Side, qty float64) (*model.FillReport, error) {
	report, err := t.exec.PlaceMarketOrder(ctx, symbol, side, qty)
	if err != nil {
		return nil, fmt.Errorf("place %s %s: %w", side, symbol, err)
	}
	if report == nil || report.FilledQty <= 0 {
		return nil, fmt.Errorf("%w: %s %s returned no fill", ErrOrderRejected, side, symbol)
	}
	return report, nil
}
