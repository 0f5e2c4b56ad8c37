package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/ordergate/params"
	"github.com/uhyunpark/ordergate/pkg/api"
	"github.com/uhyunpark/ordergate/pkg/oms"
	"github.com/uhyunpark/ordergate/pkg/publish"
	"github.com/uhyunpark/ordergate/pkg/sim"
	"github.com/uhyunpark/ordergate/pkg/storage"
	"github.com/uhyunpark/ordergate/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.LogFile, cfg.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "verbose", cfg.Verbose)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("gateway_failed", "err", err)
	}
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	gw := cfg.Gateway

	// ---- Storage ----
	store, err := openStore(gw)
	if err != nil {
		return err
	}
	defer store.Close()

	journal, err := storage.NewFileJournal(filepath.Join(gw.DataDir, "reports.jsonl"))
	if err != nil {
		return err
	}
	defer journal.Close()

	// ---- Report sinks ----
	hub := api.NewHub(sugar)
	sinks := oms.MultiSink{
		storage.NewHistoryRecorder(store, gw.ConnectionID, sugar),
		journal,
		hub,
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := publish.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, gw.ConnectionID, sugar)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		sugar.Infow("kafka_publishing_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- Exchange session + provider ----
	exchange := sim.NewExchange(sim.Config{
		ConnectionID: gw.ConnectionID,
		FillChunks:   cfg.Sim.FillChunks,
		Latency:      cfg.Sim.Latency,
		OpenWait:     cfg.Sim.OpenWait,
		Missed:       store,
		Logger:       sugar,
	})

	provider := oms.NewProvider(oms.Config{
		ConnectionID: gw.ConnectionID,
		OrderPrefix:  gw.OrderPrefix,
		Connection:   exchange,
		Symbols:      sim.SymbolTable(cfg.Sim.Symbols),
		Commission:   sim.BpsCommission{Bps: cfg.Sim.CommissionBps},
		Sink:         sinks,
		Logger:       sugar,
	})
	exchange.Attach(provider)

	day := gw.TradingDay
	if day.IsZero() {
		day = time.Now()
	}
	provider.SetTradingDay(day)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// recovery resubmits live orders, so the session must accept them
	if err := exchange.Open(); err != nil {
		return err
	}
	defer exchange.Close()

	// ---- Recovery (strictly before the provider opens) ----
	processed, err := store.ProcessedTrades(gw.ConnectionID)
	if err != nil {
		return err
	}
	sessionStart := gw.SessionStart(day)
	sugar.Infow("recovery_starting", "conn", gw.ConnectionID, "trading_day", day.Format(time.DateOnly), "session_start", sessionStart)
	if err := provider.LoadUndoneOrders(ctx, oms.RecoveryInput{
		History:         store,
		Missed:          store,
		ProcessedTrades: processed,
		SessionStart:    sessionStart,
	}); err != nil {
		return err
	}

	if err := provider.Open(); err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.ProcessNoSendOrders(ctx); err != nil {
		return err
	}

	// ---- API Server ----
	apiServer := api.NewServer(provider, hub, cfg.API.AllowedOrigins, sugar)
	sugar.Infow("gateway_started", "conn", gw.ConnectionID, "api_addr", cfg.API.Addr)
	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		return err
	}

	sugar.Infow("gateway_stopping", "conn", gw.ConnectionID)
	return nil
}

func openStore(gw params.Gateway) (storage.Store, error) {
	if gw.StoreDSN != "" {
		return storage.NewMySQLStore(gw.StoreDSN)
	}
	return storage.NewPebbleStore(filepath.Join(gw.DataDir, "orders.db"))
}
