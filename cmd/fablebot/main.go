package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quiltfox/fablebot/pkg/agent"
	"github.com/quiltfox/fablebot/pkg/backend"
	"github.com/quiltfox/fablebot/pkg/channels"
	"github.com/quiltfox/fablebot/pkg/config"
	"github.com/quiltfox/fablebot/pkg/logger"
	"github.com/quiltfox/fablebot/pkg/queue"
	"github.com/quiltfox/fablebot/pkg/session"
	"github.com/quiltfox/fablebot/pkg/store"
)

func main() {
	dotenv := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*dotenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.FileEnabled {
		if err := logger.EnableFileLogging(cfg.LogFilePath(), cfg.Logging.RotationEnabled,
			cfg.Logging.MaxSizeMB, cfg.Logging.MaxAgeDays); err != nil {
			logger.WarnCF("main", "File logging disabled", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		logger.ErrorCF("main", "Failed to open database", map[string]interface{}{
			"path":  cfg.DatabasePath(),
			"error": err.Error(),
		})
		os.Exit(1)
	}
	defer db.Close()

	sessions := session.NewManager(cfg.StatePath())
	userLog := logger.NewUserLog(cfg.UserLogDir())

	bk := backend.NewClient(backend.Options{
		BaseURL:      cfg.Backend.BaseURL,
		APIKey:       cfg.Backend.APIKey,
		Model:        cfg.Backend.Model,
		MaxTokens:    cfg.Backend.MaxTokens,
		Timeout:      time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		ProbeTimeout: time.Duration(cfg.Backend.ProbeTimeoutMS) * time.Millisecond,
	})

	jobs := queue.New()

	telegram, err := channels.NewTelegramChannel(cfg, jobs, bk, sessions, db, userLog)
	if err != nil {
		logger.ErrorCF("main", "Failed to create telegram channel", map[string]interface{}{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	worker := agent.NewWorker(agent.WorkerOptions{
		Queue:            jobs,
		Backend:          bk,
		Store:            db,
		Delivery:         telegram,
		Sessions:         sessions,
		UserLog:          userLog,
		HistoryWindow:    cfg.Chat.HistoryWindow,
		ConsolidateEvery: cfg.Memory.ConsolidationInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.Run(ctx); err != nil {
			logger.ErrorCF("main", "Dispatcher stopped with error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	if err := telegram.Start(ctx); err != nil {
		logger.ErrorCF("main", "Failed to start telegram channel", map[string]interface{}{
			"error": err.Error(),
		})
		stop()
		<-workerDone
		os.Exit(1)
	}

	logger.InfoC("main", "FableBot is up")
	<-ctx.Done()

	logger.InfoC("main", "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := telegram.Stop(shutdownCtx); err != nil {
		logger.WarnCF("main", "Telegram shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	// The job in flight finishes before Run returns.
	<-workerDone
	logger.InfoC("main", "Goodbye")
}
