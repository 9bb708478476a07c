package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpadapter "github.com/dolakin/tax-bills-assistant/internal/adapters/http"
	"github.com/dolakin/tax-bills-assistant/internal/bootstrap"
	"github.com/dolakin/tax-bills-assistant/internal/config"
	"github.com/dolakin/tax-bills-assistant/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Drop the scan cache whenever ingestion announces a corpus change.
	go func() {
		err := app.Bus.SubscribeCorpusReingested(ctx, func(context.Context) error {
			app.Corpus.Invalidate()
			slog.Info("scan_cache_invalidated", "subject", cfg.NATSSubject)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("reingest subscription failed", "error", err)
		}
	}()

	router := httpadapter.NewRouter(app.Turns, app.Metrics.Handler()).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      app.Metrics.Middleware("api", router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api shutdown error", "error", err)
	}
}
