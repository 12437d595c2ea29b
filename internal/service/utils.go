package service

import (
	"fmt"
	"strconv"
	"time"
)

func StringToFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func StringToInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// SupportedIntervals 回测和实盘共用的 K 线周期表
var SupportedIntervals = map[string]time.Duration{
	"20s": 20 * time.Second,
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration 只接受周期表中的周期
func IntervalDuration(interval string) (time.Duration, error) {
	d, ok := SupportedIntervals[interval]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported interval %q", ErrInvalidConfig, interval)
	}
	return d, nil
}

// 将 time.Duration  原(1h0m0s或者1m0s)格式化为标准的 K 线周期字符串，如 "1m", "5m", "1h"
func FormatInterval(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}

	// 优先处理小时 (h)
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}

	// 接着处理分钟 (m)
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}

	// 接着处理秒 (s)
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}

	return d.String()
}

// 将 K 线周期字符串解析为 time.Duration
// 例如 "1m" -> 1*time.Minute
func ParseIntervalDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", s)
	}

	unit := s[len(s)-1:]
	valueStr := s[:len(s)-1]

	var unitDuration time.Duration
	switch unit {
	case "s":
		unitDuration = time.Second
	case "m":
		unitDuration = time.Minute
	case "h":
		unitDuration = time.Hour
	case "d":
		unitDuration = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported interval unit: %s", unit)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid interval value: %s", valueStr)
	}

	return time.Duration(value) * unitDuration, nil
}
