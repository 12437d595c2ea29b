package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"crypto-strategy-engine/internal/model"
	"crypto-strategy-engine/internal/service"
)

// CSVCandles 从目录读取 <SYMBOL>_<interval>.csv：ts,open,high,low,close[,volume]。
// ts 可以是毫秒时间戳或 RFC3339，首行表头可选。
type CSVCandles struct {
	dir string
}

func NewCSVCandles(dir string) *CSVCandles {
	return &CSVCandles{dir: dir}
}

func (s *CSVCandles) Path(symbol, interval string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.csv", symbol, interval))
}

func (s *CSVCandles) FetchCandles(ctx context.Context, symbol, interval string, start, end time.Time) ([]model.Candle, error) {
	f, err := os.Open(s.Path(symbol, interval))
	if err != nil {
		return nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	candles, err := ParseCandlesCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path(symbol, interval), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := candles[:0]
	for _, c := range candles {
		if c.Time.Before(start) || c.Time.After(end) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ParseCandlesCSV 解析并按时间升序排列，重复时间戳保留最后一行
func ParseCandlesCSV(r io.Reader, symbol string) ([]model.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	byTime := make(map[int64]model.Candle)
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 5 {
			return nil, fmt.Errorf("line %d: want at least 5 columns, got %d", line, len(record))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "ts") {
			continue
		}

		c, err := parseRecord(record, symbol)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		byTime[c.Time.UnixMilli()] = c
	}

	out := make([]model.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseRecord(record []string, symbol string) (model.Candle, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return model.Candle{}, err
	}
	values := make([]float64, 5)
	for i := 1; i < len(record) && i <= 5; i++ {
		v, err := service.StringToFloat(strings.TrimSpace(record[i]))
		if err != nil {
			return model.Candle{}, fmt.Errorf("column %d: %w", i, err)
		}
		values[i-1] = v
	}
	return model.Candle{
		Symbol: symbol,
		Time:   ts,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ms, err := service.StringToInt64(s); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q", s)
	}
	return t.UTC(), nil
}
