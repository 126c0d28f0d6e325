// cmd/backtest replays archived candles from SQLite through the same decision
// loop the live bot runs, with a simulated clock, and prints the trades.
//
// Usage:
//
//	go run ./cmd/backtest -config config.yaml -from 2024-01-01
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tradesignal/config"
	"tradesignal/internal/inference"
	"tradesignal/internal/logger"
	"tradesignal/internal/loop"
	"tradesignal/internal/marketdata/replay"
	"tradesignal/internal/metrics"
	"tradesignal/internal/notification"
	"tradesignal/internal/position"
	sqlitestore "tradesignal/internal/store/sqlite"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default $"+config.PathEnv+")")
	dbPath := flag.String("db", "", "SQLite archive to replay (default: sqlite.path from config)")
	from := flag.String("from", "", "Replay candles opening after this date (YYYY-MM-DD or RFC3339; empty = all)")
	quiet := flag.Bool("quiet", false, "Only print the summary")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[backtest] %v\n", err)
		os.Exit(2)
	}
	logger.Init("backtest", logger.ParseLevel(cfg.Log.Level))

	if *dbPath == "" {
		*dbPath = cfg.SQLite.Path
	}
	fromTS, err := parseFrom(*from)
	if err != nil {
		fatalf("bad -from: %v", err)
	}
	step, err := intervalDuration(cfg.Session.Interval)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	mdl, err := inference.Load(cfg.Model.ScalerPath, cfg.Model.ClassifierPath)
	if err != nil {
		fatalf("%v", err)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		fatalf("sqlite open failed: %v", err)
	}
	defer reader.Close()

	client, err := replay.Load(ctx, reader, cfg.Session.Symbol, cfg.Session.Interval, fromTS)
	if err != nil {
		fatalf("replay load failed: %v", err)
	}
	steps := client.Steps(cfg.Session.Limit)
	if steps == 0 {
		fatalf("archive holds %d candles for %s/%s, need at least %d",
			client.Len(), cfg.Session.Symbol, cfg.Session.Interval, cfg.Session.Limit)
	}

	machine, err := position.NewMachine(cfg.Session.Symbol, cfg.Session.TakeProfit, cfg.Session.StopLoss)
	if err != nil {
		fatalf("%v", err)
	}
	ledger := position.NewLedger()

	var notifier notification.Notifier = printNotifier{}
	if *quiet {
		notifier = notification.NewMulti()
	}

	// Event times follow the last candle of each window, assuming the archive has no gaps.
	lastOpen := client.Start().Add(time.Duration(cfg.Session.Limit-1) * step)
	lp, err := loop.New(loop.Config{
		Symbol:       cfg.Session.Symbol,
		Interval:     cfg.Session.Interval,
		Limit:        cfg.Session.Limit,
		PollInterval: step,
		MaxCycles:    steps,
	}, loop.Deps{
		Client:   client,
		Model:    mdl,
		Machine:  machine,
		Clock:    loop.NewSimClock(lastOpen),
		Notifier: notifier,
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Ledger:   ledger,
	})
	if err != nil {
		fatalf("%v", err)
	}

	start := time.Now()
	if err := lp.Run(ctx); err != nil {
		slog.Warn("[backtest] interrupted", "error", err)
	}
	elapsed := time.Since(start)

	sum := ledger.Summary()
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbol:            %-16s ║\n", cfg.Session.Symbol+" "+cfg.Session.Interval)
	fmt.Printf("║  Cycles:            %-16d ║\n", lp.Cycles())
	fmt.Printf("║  Trades:            %-16d ║\n", sum.Trades)
	fmt.Printf("║  Wins / Losses:     %-16s ║\n", fmt.Sprintf("%d / %d", sum.Wins, sum.Losses))
	fmt.Printf("║  TP / SL / SELL:    %-16s ║\n", fmt.Sprintf("%d / %d / %d", sum.TakeProfits, sum.StopLosses, sum.Sells))
	fmt.Printf("║  Total return:      %-16s ║\n", fmt.Sprintf("%+.2f%%", sum.TotalReturn))
	fmt.Printf("║  Open at end:       %-16s ║\n", lp.State().String())
	fmt.Printf("║  Elapsed:           %-16s ║\n", elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════╝")
}

// printNotifier writes each event line to stdout.
type printNotifier struct{}

func (printNotifier) Send(ctx context.Context, a notification.Alert) error {
	fmt.Println(a.Message)
	return nil
}

func parseFrom(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// intervalDuration converts a Binance interval ("15m", "1h", "1d", "1w") to a
// duration. Month intervals have no fixed length and are rejected.
func intervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported interval %q", strings.TrimSpace(interval))
}

func fatalf(format string, args ...any) {
	slog.Error("[backtest] " + fmt.Sprintf(format, args...))
	os.Exit(1)
}
