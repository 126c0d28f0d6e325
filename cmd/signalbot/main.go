// cmd/signalbot runs the live decision loop for one symbol: it polls Binance
// klines, scores the latest feature row with the pretrained model and emits
// advisory BUY/SELL/TP/SL events.
//
// Usage:
//
//	go run ./cmd/signalbot -config config.yaml
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradesignal/config"
	"tradesignal/internal/api"
	"tradesignal/internal/gateway"
	"tradesignal/internal/inference"
	"tradesignal/internal/logger"
	"tradesignal/internal/loop"
	"tradesignal/internal/marketdata/binance"
	"tradesignal/internal/metrics"
	"tradesignal/internal/notification"
	"tradesignal/internal/position"
	redisstore "tradesignal/internal/store/redis"
	sqlitestore "tradesignal/internal/store/sqlite"
	"tradesignal/internal/trace"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default $"+config.PathEnv+")")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[signalbot] %v\n", err)
		os.Exit(2)
	}

	logger.Init("signalbot", logger.ParseLevel(cfg.Log.Level))
	slog.Info("[signalbot] starting",
		"version", version,
		"symbol", cfg.Session.Symbol,
		"interval", cfg.Session.Interval,
		"take_profit", cfg.Session.TakeProfit,
		"stop_loss", cfg.Session.StopLoss,
	)

	// Spans go to stderr so they never interleave with the JSON log on stdout.
	if err := trace.Init(trace.Options{Enabled: cfg.Trace.Enabled, Writer: os.Stderr, Version: version}); err != nil {
		slog.Warn("[signalbot] tracing disabled", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("[signalbot] shutting down", "signal", sig.String())
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)

	health := metrics.NewHealthStatus(cfg.Session.Symbol)
	health.StaleAfter = 3*cfg.Session.PollInterval + cfg.Binance.Timeout

	hub := gateway.NewHub(256)
	defer hub.Close()

	notifier := notification.NewMulti(notification.Named{Name: "log", Notifier: notification.NewLogNotifier()})
	notifier.OnError = func(backend string, err error) {
		prom.NotifierFailures.WithLabelValues(backend).Inc()
	}
	notifier.Add("ws", hub)
	if cfg.Telegram.BotToken != "" {
		notifier.Add("telegram", notification.NewTelegramNotifier(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Webhook.URL != "" {
		notifier.Add("webhook", notification.NewWebhookNotifier(cfg.Webhook.URL))
	}

	publisher := openRedis(cfg.Redis, prom)
	if publisher != nil {
		defer publisher.Close()
		notifier.Add("redis", notification.NewRedisNotifier(publisher))
	}

	writer := openSQLite(cfg.SQLite)
	if writer != nil {
		defer writer.Close()
	}

	// The model is the one hard dependency: without it there is nothing to run.
	mdl, err := inference.Load(cfg.Model.ScalerPath, cfg.Model.ClassifierPath)
	if err != nil {
		loop.ReportFatal(ctx, notifier, cfg.Session.Symbol, time.Now(), err)
		trace.Shutdown(context.Background())
		os.Exit(1)
	}
	health.SetModelLoaded(true)
	slog.Info("[signalbot] model loaded", "features", len(mdl.FeatureNames()))

	machine, err := position.NewMachine(cfg.Session.Symbol, cfg.Session.TakeProfit, cfg.Session.StopLoss)
	if err != nil {
		slog.Error("[signalbot] position machine", "error", err)
		os.Exit(2)
	}
	ledger := position.NewLedger()

	deps := loop.Deps{
		Client:   binance.New(cfg.Binance.BaseURL, cfg.Binance.Timeout),
		Model:    mdl,
		Machine:  machine,
		Clock:    loop.RealClock{},
		Notifier: notifier,
		Metrics:  prom,
		Health:   health,
		Ledger:   ledger,
	}
	if writer != nil {
		deps.Journal = writer
		if cfg.SQLite.ArchiveCandles {
			deps.Archive = writer
		}
	}

	lp, err := loop.New(loop.Config{
		Symbol:       cfg.Session.Symbol,
		Interval:     cfg.Session.Interval,
		Limit:        cfg.Session.Limit,
		PollInterval: cfg.Session.PollInterval,
	}, deps)
	if err != nil {
		slog.Error("[signalbot] loop init failed", "error", err)
		os.Exit(2)
	}

	if cfg.HTTP.Addr != "" {
		routes := api.Deps{Gatherer: reg, Health: health, Stream: hub, Summary: ledger}
		if writer != nil {
			routes.Events = writer
		}
		srv := metrics.NewServer(cfg.HTTP.Addr, api.NewRouter(routes))
		srv.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Stop(shutdownCtx)
		}()

		var rdb *goredis.Client
		if publisher != nil {
			rdb = publisher.Client()
		}
		var db *sql.DB
		if writer != nil {
			db = writer.DB()
		}
		if rdb != nil || db != nil {
			health.StartLivenessChecker(ctx, rdb, db, 15*time.Second)
		}
	}

	lp.NotifyStartup(ctx)
	if err := lp.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("[signalbot] loop exited", "error", err)
	}

	sum := ledger.Summary()
	slog.Info("[signalbot] stopped",
		"cycles", lp.Cycles(),
		"state", lp.State().String(),
		"trades", sum.Trades,
		"total_return_pct", sum.TotalReturn,
	)

	flushCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := trace.Shutdown(flushCtx); err != nil {
		slog.Warn("[signalbot] trace flush failed", "error", err)
	}
}

// openRedis connects the event publisher, or returns nil when Redis is not
// configured or unreachable. Events are advisory; the loop runs without it.
func openRedis(cfg config.Redis, prom *metrics.Metrics) *redisstore.Publisher {
	if cfg.Addr == "" {
		return nil
	}
	pub, err := redisstore.New(redisstore.PublisherConfig{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Channel:      cfg.Channel,
		Stream:       cfg.Stream,
		StreamMaxLen: cfg.StreamMaxLen,
	})
	if err != nil {
		slog.Warn("[signalbot] redis unavailable, publishing disabled", "addr", cfg.Addr, "error", err)
		return nil
	}
	pub.OnBuffer = prom.RedisBufferedEvents.Inc
	pub.OnFlush = func(n int) { prom.RedisFlushedEvents.Add(float64(n)) }
	pub.Breaker().OnStateChange = func(from, to redisstore.State) {
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
		slog.Warn("[redis] circuit breaker", "from", from.String(), "to", to.String())
	}
	return pub
}

// openSQLite opens the journal, or returns nil when disabled or failing.
func openSQLite(cfg config.SQLite) *sqlitestore.Writer {
	if cfg.Path == "" {
		return nil
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Path})
	if err != nil {
		slog.Warn("[signalbot] sqlite unavailable, journal disabled", "path", cfg.Path, "error", err)
		return nil
	}
	return w
}
