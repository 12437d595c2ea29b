package feed

import (
	"context"
	"fmt"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseCandles 读取 ohlcv 表 (symbol, interval, open_time_ms, open, high, low, close, volume)
type ClickHouseCandles struct {
	conn   driver.Conn
	table  string
	logger *zap.Logger
}

func NewClickHouseCandles(ctx context.Context, cfg service.ClickHouseConfig, logger *zap.Logger) (*ClickHouseCandles, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &ClickHouseCandles{
		conn:   conn,
		table:  cfg.Database + "." + cfg.Table,
		logger: logger,
	}, nil
}

func (s *ClickHouseCandles) Close() error { return s.conn.Close() }

func candleQuery(table string) string {
	return fmt.Sprintf(`
SELECT open_time_ms, open, high, low, close, volume
FROM %s
WHERE symbol = ? AND interval = ? AND open_time_ms BETWEEN ? AND ?
ORDER BY open_time_ms`, table)
}

func (s *ClickHouseCandles) FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Candle, error) {
	rows, err := s.conn.Query(ctx, candleQuery(s.table), symbol, interval, uint64(start.UnixMilli()), uint64(end.UnixMilli()))
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var (
			openTime uint64
			o, h, l  float64
			c, v     float64
		)
		if err := rows.Scan(&openTime, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, model.Candle{
			Symbol: symbol,
			Time:   time.UnixMilli(int64(openTime)).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("Candles loaded",
		zap.String("Symbol", symbol),
		zap.String("Interval", interval),
		zap.Int("Count", len(out)))
	return out, nil
}
