package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-strategy-engine/internal/backtest"
	"crypto-strategy-engine/internal/feed"
	"crypto-strategy-engine/internal/service"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	modeBacktest      = "backtest"
	modeSuggest       = "suggest"
	modeAmplification = "amplification"
	modeIndicators    = "indicators"
)

func main() {
	fs := pflag.NewFlagSet("backtest", pflag.ExitOnError)
	fs.String("config", "config", "Directory containing config.yaml")
	fs.String("instance", "", "Instance name in config.yaml whose strategy is replayed")
	fs.String("start", "", "Start time inclusive (RFC3339)")
	fs.String("end", "", "End time inclusive (RFC3339)")
	fs.Float64("cash", 0, "Initial cash, 0 uses the instance setting")
	fs.String("source", "", "Candle source: csv or clickhouse, empty uses Feed.Source")
	fs.String("data-dir", "", "CSV candle directory, empty uses Feed.DataDir")
	fs.String("mode", modeBacktest, "backtest | suggest | amplification | indicators")
	fs.String("out", "", "Write the JSON report to this file instead of stdout")
	_ = fs.Parse(os.Args[1:])

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		fmt.Fprintf(os.Stderr, "bind flags: %v\n", err)
		os.Exit(2)
	}

	cfg, err := service.LoadConfig(v.GetString("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	service.InitLogger(cfg.Log.Level)
	defer service.Logger.Sync()
	logger := service.Logger

	name := v.GetString("instance")
	inst, ok := cfg.Instances[name]
	if !ok {
		logger.Fatal("Unknown instance, use --instance", zap.String("Instance", name))
	}
	start, err := time.Parse(time.RFC3339, v.GetString("start"))
	if err != nil {
		logger.Fatal("Invalid --start", zap.Error(err))
	}
	end, err := time.Parse(time.RFC3339, v.GetString("end"))
	if err != nil {
		logger.Fatal("Invalid --end", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSrc, err := openSource(ctx, cfg, v, logger)
	if err != nil {
		logger.Fatal("Candle source unavailable", zap.Error(err))
	}
	defer closeSrc()

	var report any
	switch mode := v.GetString("mode"); mode {
	case modeBacktest:
		cash := v.GetFloat64("cash")
		if cash <= 0 {
			cash = inst.InitialCash
		}
		report, err = backtest.Run(ctx, backtest.Request{
			Strategy:    inst.Strategy,
			Start:       start,
			End:         end,
			InitialCash: cash,
			Lot:         inst.Lot,
		}, src, logger)
	case modeSuggest:
		report, err = backtest.AnalyzePair(ctx, inst.Strategy, start, end, src)
	case modeAmplification:
		report, err = backtest.AnalyzeAmplification(ctx, inst.Strategy, start, end, src)
	case modeIndicators:
		report, err = backtest.AnalyzeIndicators(ctx, inst.Strategy, start, end, src, logger)
	default:
		logger.Fatal("Unknown --mode", zap.String("Mode", mode))
	}
	if err != nil {
		logger.Fatal("Run failed", zap.String("Instance", name), zap.Error(err))
	}

	if err := writeReport(v.GetString("out"), report); err != nil {
		logger.Fatal("Write report failed", zap.Error(err))
	}
}

func openSource(ctx context.Context, cfg *service.Config, v *viper.Viper, logger *zap.Logger) (backtest.CandleSource, func(), error) {
	source := v.GetString("source")
	if source == "" {
		source = cfg.Feed.Source
	}
	switch source {
	case "clickhouse":
		ch, err := feed.NewClickHouseCandles(ctx, cfg.Storage.ClickHouse, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, func() { ch.Close() }, nil
	case "csv":
		dir := v.GetString("data-dir")
		if dir == "" {
			dir = cfg.Feed.DataDir
		}
		return feed.NewCSVCandles(dir), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown candle source %q", service.ErrInvalidConfig, source)
	}
}

func writeReport(path string, report any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
