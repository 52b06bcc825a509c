package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"voicebox/internal/config"
	"voicebox/internal/daemon"
	"voicebox/internal/extract"
	"voicebox/internal/intake"
	"voicebox/internal/logging"
	"voicebox/internal/pipeline"
	"voicebox/internal/queue"
	"voicebox/internal/transcribe"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Mailbox credentials may live in an env file next to the daemon.
	_ = godotenv.Load("voicebox.env")

	configPath := os.Getenv("VOICEBOX_CONFIG")
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open item store", logging.Error(err))
		os.Exit(1)
	}

	transcriber := transcribe.NewService(cfg.Transcription)
	extractor := extract.NewClient(cfg.Extraction)

	mgr := pipeline.NewManager(cfg, store, transcriber, extractor, logger)
	loader := intake.NewLoader(cfg.Mail, logger)
	poller := intake.NewPoller(cfg, loader, store, mgr, logger)

	d, err := daemon.New(cfg, store, logger, mgr, poller, transcriber)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("voiceboxd shutting down")
}
