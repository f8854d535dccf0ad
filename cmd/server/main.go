package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/pdf-flipbook/internal/app"
	"github.com/iliyamo/pdf-flipbook/internal/config"
	sl "github.com/iliyamo/pdf-flipbook/internal/logger"
	"github.com/iliyamo/pdf-flipbook/internal/queue"
	"github.com/iliyamo/pdf-flipbook/internal/router"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine

	cfg := config.Load()
	log := sl.Setup(cfg.Env)
	log.Info("starting flipbook service", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", sl.Err(err))
		os.Exit(1)
	}
	defer a.Close()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Error("upload dir", sl.Err(err))
		os.Exit(1)
	}

	if cfg.RabbitMQURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.EventLogDir, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event consumer stopped", sl.Err(err))
			}
		}()
	}

	e, err := router.New(a)
	if err != nil {
		log.Error("router setup failed", sl.Err(err))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", sl.Err(err))
	}
}
