package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrStalePrice = errors.New("price feed stale")

// OkxWsData 适用于 Okx V5 的通用推送结构
type OkxWsData struct {
	Arg struct {
		Channel string `json:"channel"`
		InstId  string `json:"instId"`
	} `json:"arg"`
	Data  json.RawMessage `json:"data"` // 按频道延迟解析
	Event string          `json:"event"`
}

// OkxTradeData trades 频道
type OkxTradeData struct {
	Timestamp string `json:"ts"`
	Price     string `json:"px"`
	Size      string `json:"sz"`
	Side      string `json:"side"` // buy / sell，主动方
	InstId    string `json:"instId"`
}

// OkxTickerData tickers 频道
type OkxTickerData struct {
	LastPrice string `json:"last"`
	Timestamp string `json:"ts"`
	InstId    string `json:"instId"`
}

// InstID BTCUSDT -> BTC-USDT (现货)
func InstID(symbol, quote string) string {
	return strings.TrimSuffix(symbol, quote) + "-" + quote
}

type priceEntry struct {
	price float64
	at    time.Time
}

// WSPriceFeed 订阅 Okx 现货 trades/tickers，维护每个交易对的最新价格和当前 K 线。
// 同一个 feed 供多个策略实例共享，只读。
type WSPriceFeed struct {
	wsURL        string
	instToSymbol map[string]string
	aggregators  map[string]*CandleAggregator
	staleAfter   time.Duration
	logger       *zap.Logger

	mu     sync.RWMutex
	prices map[string]priceEntry
	now    func() time.Time
}

func NewWSPriceFeed(wsURL string, symbols []string, quote, interval string, staleAfter time.Duration, logger *zap.Logger) (*WSPriceFeed, error) {
	f := &WSPriceFeed{
		wsURL:        wsURL,
		instToSymbol: make(map[string]string, len(symbols)),
		aggregators:  make(map[string]*CandleAggregator, len(symbols)),
		staleAfter:   staleAfter,
		logger:       logger.With(zap.String("Feed", "okx")),
		prices:       make(map[string]priceEntry),
		now:          time.Now,
	}
	for _, sym := range symbols {
		if _, ok := f.aggregators[sym]; ok {
			continue
		}
		agg, err := NewCandleAggregator(sym, interval, nil, f.logger)
		if err != nil {
			return nil, err
		}
		f.instToSymbol[InstID(sym, quote)] = sym
		f.aggregators[sym] = agg
	}
	f.logger.Info("Price feed initialized", zap.Strings("Symbols", symbols))
	return f, nil
}

// Start 连接并读取，断线后等待 5 秒重连，直到 ctx 取消
func (f *WSPriceFeed) Start(ctx context.Context) {
	for {
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			f.logger.Error("WS session ended, reconnecting...", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			f.logger.Info("Price feed stopped")
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (f *WSPriceFeed) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var args []map[string]string
	for instID := range f.instToSymbol {
		args = append(args, map[string]string{"channel": "trades", "instId": instID})
		args = append(args, map[string]string{"channel": "tickers", "instId": instID})
	}
	subscribe := map[string]any{"op": "subscribe", "args": args}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("Subscribed to Okx TRADE and TICKERS streams", zap.Int("Instruments", len(f.instToSymbol)))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(message)
	}
}

// handleMessage 解析一条推送，更新最新价格和 K 线
func (f *WSPriceFeed) handleMessage(message []byte) {
	var resp OkxWsData
	if err := json.Unmarshal(message, &resp); err != nil {
		f.logger.Debug("Skipping malformed WS message", zap.Error(err))
		return
	}
	if resp.Event != "" || len(resp.Data) == 0 {
		return // 订阅确认等事件
	}
	symbol, ok := f.instToSymbol[resp.Arg.InstId]
	if !ok {
		return
	}

	switch resp.Arg.Channel {
	case "trades":
		var trades []OkxTradeData
		if err := json.Unmarshal(resp.Data, &trades); err != nil {
			f.logger.Error("Trade data unmarshal error", zap.Error(err))
			return
		}
		for _, tr := range trades {
			price, err := service.StringToFloat(tr.Price)
			if err != nil {
				continue
			}
			volume, err := service.StringToFloat(tr.Size)
			if err != nil {
				continue
			}
			ts, err := service.StringToInt64(tr.Timestamp)
			if err != nil {
				continue
			}
			f.update(model.Ticker{
				Symbol:       symbol,
				Timestamp:    ts,
				Price:        price,
				Volume:       volume,
				IsBuyerMaker: tr.Side != "buy",
			})
		}
	case "tickers":
		var tickers []OkxTickerData
		if err := json.Unmarshal(resp.Data, &tickers); err != nil {
			f.logger.Error("Tickers data unmarshal error", zap.Error(err))
			return
		}
		if len(tickers) == 0 {
			return
		}
		price, err := service.StringToFloat(tickers[0].LastPrice)
		if err != nil {
			return
		}
		ts, _ := service.StringToInt64(tickers[0].Timestamp)
		// 价格快照，volume = 0
		f.update(model.Ticker{Symbol: symbol, Timestamp: ts, Price: price})
	}
}

func (f *WSPriceFeed) update(t model.Ticker) {
	if t.Price <= 0 {
		return
	}
	if t.Timestamp <= 0 {
		t.Timestamp = f.now().UnixMilli()
	}
	f.mu.Lock()
	f.prices[t.Symbol] = priceEntry{price: t.Price, at: f.now()}
	f.mu.Unlock()
	f.aggregators[t.Symbol].Process(t)
}

// GetPrices 最新价格；超过 staleAfter 没有更新的交易对不返回
func (f *WSPriceFeed) GetPrices(_ context.Context) (map[string]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.now()
	out := make(map[string]float64, len(f.prices))
	for sym, e := range f.prices {
		if f.staleAfter > 0 && now.Sub(e.at) > f.staleAfter {
			continue
		}
		out[sym] = e.price
	}
	if len(out) == 0 {
		return nil, ErrStalePrice
	}
	return out, nil
}

// Frame 当前周期 K 线 (最高/最低价来自聚合)，收盘价为最新价格
func (f *WSPriceFeed) Frame(ctx context.Context, at time.Time) (model.Frame, error) {
	prices, err := f.GetPrices(ctx)
	if err != nil {
		return model.Frame{}, err
	}
	frame := model.NewFrame(at)
	for sym, price := range prices {
		c, ok := f.aggregators[sym].Current()
		if !ok {
			c = model.FlatCandle(sym, at, price)
		}
		c.Time = at
		c.Close = price
		frame.Candles[sym] = c
	}
	return frame, nil
}
