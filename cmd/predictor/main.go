package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polypredict/config"
	"github.com/alejandrodnm/polypredict/internal/adapters/notify"
	"github.com/alejandrodnm/polypredict/internal/adapters/storage"
	"github.com/alejandrodnm/polypredict/internal/application/engine"
	"github.com/alejandrodnm/polypredict/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one keeper cycle and exit")
	status := flag.Bool("status", false, "print the current state and recent rounds, then exit")
	verbose := flag.Bool("verbose", false, "set log level to debug and print every bet and claim")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *once, *status, *verbose); err != nil {
		slog.Error("predictor exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("predictor stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, once, status, verbose bool) error {
	params, err := cfg.Params()
	if err != nil {
		return err
	}

	slog.Info("predictor starting",
		"interval", params.Interval,
		"buffer", params.Buffer,
		"fee_bps", params.TreasuryFeeBps,
		"oracle", cfg.Oracle.Kind,
		"keeper", cfg.KeeperEnabled(),
		"once", once,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	oracle, priceDecimals, closeOracle, err := openOracle(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeOracle()

	console := notify.NewConsole(notify.ConsoleConfig{
		AmountDecimals: notify.DefaultConsoleConfig().AmountDecimals,
		PriceDecimals:  priceDecimals,
		Verbose:        verbose,
	})
	sinks := []ports.EventSink{console}

	bus, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if bus != nil {
		defer bus.Close()
		sinks = append(sinks, bus.publisher)
	}

	eng, err := engine.New(ctx,
		engine.Config{Params: params, Admin: cfg.Roles.Admin, Operator: cfg.Roles.Operator},
		// Sin Payer externo: los cobros se abonan en el mismo commit que los marca.
		oracle, store, nil,
		engine.WithSinks(sinks...),
	)
	if err != nil {
		return err
	}

	if status {
		console.PrintStatus(eng.State(), eng.RecentRounds(10), time.Now())
		return nil
	}

	return serve(ctx, cfg, eng, store, bus, once)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
