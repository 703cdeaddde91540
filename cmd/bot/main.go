package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_ocr_bot/internal/access"
	"tg_ocr_bot/internal/config"
	"tg_ocr_bot/internal/health"
	"tg_ocr_bot/internal/logging"
	"tg_ocr_bot/internal/ocr"
	"tg_ocr_bot/internal/pdf"
	"tg_ocr_bot/internal/pipeline"
	"tg_ocr_bot/internal/store"
	"tg_ocr_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	healthShutdownTimeout   = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second

	ownerLabel = "owner"
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	confPath := flag.String("conf", config.DefaultConfPath, "path to the settings file")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":       "startup",
		"access_file": cfg.Access.File,
		"ocr_lang":    cfg.Tesseract.Lang,
	}).Info("configuration loaded")

	registry, err := access.Load(cfg.Access.File, logger)
	if err != nil {
		logger.WithError(err).Error("access file error")
		fmt.Fprintf(os.Stderr, "access file error: %v\n", err)
		os.Exit(1)
	}

	if err := registry.EnsureAdmin(cfg.OwnerID, ownerLabel); err != nil {
		logger.WithError(err).Error("admin bootstrap error")
		fmt.Fprintf(os.Stderr, "admin bootstrap error: %v\n", err)
		os.Exit(1)
	}

	var (
		history  *store.History
		recorder *store.Recorder
	)
	if cfg.HistoryEnabled() {
		connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		history, err = store.NewHistory(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
		cancel()
		if err != nil {
			logger.WithError(err).Error("mongo connection error")
			fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
			os.Exit(1)
		}
		recorder = store.NewRecorder(history.Documents())
		logger.WithField("event", "mongo_connect").Info("connected to processing history store")
	}

	processor, err := pipeline.New(
		pdf.NewRasterizer(),
		ocr.New(cfg.Tesseract.Cmd),
		recorder,
		pipeline.Settings{
			DPI:        cfg.PDF.DPI,
			Language:   cfg.Tesseract.Lang,
			ChunkLimit: cfg.Chunk.Limit,
		},
		logger,
	)
	if err != nil {
		logger.WithError(err).Error("pipeline setup error")
		fmt.Fprintf(os.Stderr, "pipeline setup error: %v\n", err)
		os.Exit(1)
	}

	router, err := telegram.NewRouter(registry, processor, recorder, logging.Audit(), logger)
	if err != nil {
		logger.WithError(err).Error("router setup error")
		fmt.Fprintf(os.Stderr, "router setup error: %v\n", err)
		os.Exit(1)
	}

	boundary := telegram.NewBoundary(logger, func(err error) {
		logger.WithError(err).WithField("event", "failure_escalated").Error("unhandled handler failure")
	})

	tgClient, err := telegram.NewClient(cfg, router, boundary, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTP.Port, historyChecker(history), logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	if history != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		if err := history.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("mongo disconnect error")
		} else {
			logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
		}
		cancelShutdown()
	}

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

// historyChecker avoids handing the health server a non-nil interface wrapping
// a nil *store.History.
func historyChecker(history *store.History) health.HistoryChecker {
	if history == nil {
		return nil
	}
	return history
}
