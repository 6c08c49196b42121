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

	httpadapter "github.com/paul-heyse/medkg-retrieval/internal/adapters/http"
	"github.com/paul-heyse/medkg-retrieval/internal/bootstrap"
	"github.com/paul-heyse/medkg-retrieval/internal/config"
	"github.com/paul-heyse/medkg-retrieval/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("retrieval-api", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	if app.Versions != nil {
		go func() {
			if err := app.Versions.Watch(ctx); err != nil {
				slog.Warn("version_feed_stopped", "error", err)
			}
		}()
	}

	router := httpadapter.NewRouter(
		app.Retrieval,
		app.MetricsHandler(),
		app.Metrics.InstrumentHandler,
		httpadapter.RouterConfig{
			RequestsPerSecond: cfg.RequestsPerSecond,
			RequestBurst:      cfg.RequestBurst,
		},
	).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("api_shutdown_error", "error", err)
	}
}
