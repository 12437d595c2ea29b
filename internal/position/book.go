package position

import (
	"time"

	"crypto-strategy-engine/internal/model"
)

// Book 账户视图：现金、唯一持仓、成交流水、净值与历史最高净值。
// 不是并发安全的，由持有它的策略实例加锁。
type Book struct {
	initialCash float64
	cash        float64 // 现金 (包含已实现盈亏)
	equity      float64 // 净值 = 现金 + 持仓市值
	maxEquity   float64 // 历史最高净值

	pos        model.PositionState
	fills      []model.Fill
	lastPrices map[string]float64
}

func NewBook(initialCash float64) *Book {
	return &Book{
		initialCash: initialCash,
		cash:        initialCash,
		equity:      initialCash,
		maxEquity:   initialCash,
		lastPrices:  make(map[string]float64),
	}
}

// Mark 用最新价格更新浮动盈亏、入场后最高价和净值
func (b *Book) Mark(prices map[string]float64) {
	for sym, p := range prices {
		if p > 0 {
			b.lastPrices[sym] = p
		}
	}
	if !b.pos.IsFlat() {
		if p, ok := b.lastPrices[b.pos.Asset]; ok && p > b.pos.PeakPrice {
			b.pos.PeakPrice = p
		}
	}
	b.updateEquity()
}

func (b *Book) updateEquity() {
	if b.pos.IsFlat() {
		// 空仓时，净值 = 现金
		b.pos.UnrealizedPnL = 0
		b.equity = b.cash
	} else {
		value := b.pos.Quantity * b.markPrice()
		b.pos.UnrealizedPnL = value - b.pos.CostBasis
		b.equity = b.cash + value
	}
	if b.equity > b.maxEquity {
		b.maxEquity = b.equity
	}
}

// markPrice 没有行情时按入场价估值
func (b *Book) markPrice() float64 {
	if p, ok := b.lastPrices[b.pos.Asset]; ok {
		return p
	}
	return b.pos.EntryPrice
}

func (b *Book) InitialCash() float64            { return b.initialCash }
func (b *Book) Cash() float64                   { return b.cash }
func (b *Book) Equity() float64                 { return b.equity }
func (b *Book) MaxEquity() float64              { return b.maxEquity }
func (b *Book) Position() model.PositionState   { return b.pos }
func (b *Book) LastPrice(symbol string) float64 { return b.lastPrices[symbol] }

// Fills 返回副本，防止外部修改
func (b *Book) Fills() []model.Fill {
	out := make([]model.Fill, len(b.fills))
	copy(out, b.fills)
	return out
}

// ApplyBuy 买入成交：扣除成交额和手续费，建立持仓
func (b *Book) ApplyBuy(ts time.Time, symbol string, qty, quote, fee float64, reason model.Reason) model.Fill {
	price := 0.0
	if qty > 0 {
		price = quote / qty
	}
	b.cash -= quote + fee
	b.pos = model.PositionState{
		Asset:        symbol,
		Quantity:     qty,
		EntryPrice:   price,
		CostBasis:    quote + fee,
		PeakPrice:    price,
		EntryTime:    ts,
		LastFillTime: ts,
		RealizedPnL:  b.pos.RealizedPnL,
	}
	b.lastPrices[symbol] = price

	fill := model.Fill{
		Time:     ts,
		Symbol:   symbol,
		Side:     model.SideBuy,
		Quantity: qty,
		Price:    price,
		Quote:    quote,
		Fee:      fee,
		Reason:   reason,
	}
	b.fills = append(b.fills, fill)
	b.updateEquity()
	return fill
}

// ApplySell 卖出成交。closeAll 为 true 时剩余的零头一并清掉，
// 否则按卖出比例结转成本。
func (b *Book) ApplySell(ts time.Time, qty, quote, fee float64, closeAll bool, reason model.Reason) model.Fill {
	symbol := b.pos.Asset
	price := 0.0
	if qty > 0 {
		price = quote / qty
	}

	cost := b.pos.CostBasis
	if !closeAll && b.pos.Quantity > 0 && qty < b.pos.Quantity {
		cost = b.pos.CostBasis * qty / b.pos.Quantity
	}
	pnl := quote - fee - cost

	b.cash += quote - fee
	b.pos.RealizedPnL += pnl
	b.pos.LastFillTime = ts
	if closeAll || qty >= b.pos.Quantity {
		b.pos = model.PositionState{RealizedPnL: b.pos.RealizedPnL, LastFillTime: ts}
	} else {
		b.pos.Quantity -= qty
		b.pos.CostBasis -= cost
	}

	fill := model.Fill{
		Time:     ts,
		Symbol:   symbol,
		Side:     model.SideSell,
		Quantity: qty,
		Price:    price,
		Quote:    quote,
		Fee:      fee,
		PnL:      pnl,
		Reason:   reason,
	}
	b.fills = append(b.fills, fill)
	b.updateEquity()
	return fill
}

// WriteOffDust 持仓低于最小下单量时不下单，按标记价直接平掉
func (b *Book) WriteOffDust(ts time.Time) model.Fill {
	price := b.markPrice()
	quote := b.pos.Quantity * price
	fill := model.Fill{
		Time:     ts,
		Symbol:   b.pos.Asset,
		Side:     model.SideSell,
		Quantity: b.pos.Quantity,
		Price:    price,
		Quote:    quote,
		PnL:      quote - b.pos.CostBasis,
		Reason:   model.ReasonDust,
	}
	b.cash += quote
	b.pos = model.PositionState{RealizedPnL: b.pos.RealizedPnL + fill.PnL, LastFillTime: ts}
	b.fills = append(b.fills, fill)
	b.updateEquity()
	return fill
}
