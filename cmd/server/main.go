package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/example/captcha-relay/internal/api"
	"github.com/example/captcha-relay/internal/config"
	"github.com/example/captcha-relay/internal/logger"
	"github.com/example/captcha-relay/internal/orchestrator"
	relayotel "github.com/example/captcha-relay/internal/otel"
	"github.com/example/captcha-relay/internal/providers/llm"
	"github.com/example/captcha-relay/internal/sentryconnect"
	"github.com/example/captcha-relay/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.InitLogger("info")
		log.WithError(err).Fatal("load configuration")
	}
	logger.InitLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		// refuse to operate partially configured; every request reports what is missing
		log.WithError(err).Error("relay is misconfigured")
		if err := serve(ctx, cfg.Addr(), api.Misconfigured(err)); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("relay stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	hub, err := sentryconnect.InitSentry(cfg.SentryDSN, relayotel.Version, "captcha-relay")
	if err != nil {
		log.WithError(err).Warn("sentry disabled")
	}

	tel, err := relayotel.Init(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer shutdownWith(tel.Shutdown)
	metrics, err := relayotel.NewMetrics(tel.Meter)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, cfg.StoreURL, storage.Options{Sentry: hub})
	if err != nil {
		return err
	}
	defer store.Close()

	janitor, err := storage.StartJanitor(store, cfg.StoreMaintenanceSchedule, hub)
	if err != nil {
		return err
	}
	defer janitor.Stop()

	client, err := llm.New(ctx, llm.Config{
		Backend: cfg.ProviderBackend,
		APIKey:  cfg.ProviderAPIKey,
		Model:   cfg.ProviderModel,
		BaseURL: cfg.ProviderBaseURL,
		Timeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return err
	}
	if c, ok := client.(io.Closer); ok {
		defer c.Close()
	}

	orch := orchestrator.New(store, &llm.Instrumented{
		Next:    client,
		Tracer:  tel.Tracer,
		Metrics: metrics,
		Model:   cfg.ProviderModel,
	}, orchestrator.Options{
		TTL:     cfg.TaskTTL,
		Tracer:  tel.Tracer,
		Metrics: metrics,
		Sentry:  hub,
	})
	// runs in flight finish their terminal write before the store closes
	defer orch.Wait()

	srv, err := api.NewServer(orch, api.Options{
		SubmitKey:    cfg.SubmitAPIKey,
		QueryKey:     cfg.QueryAPIKey,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Tracer:       tel.Tracer,
		Metrics:      metrics,
		Sentry:       hub,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"backend": cfg.ProviderBackend,
		"model":   cfg.ProviderModel,
		"store":   storeScheme(cfg.StoreURL),
		"ttl":     cfg.TaskTTL,
	}).Info("relay configured")
	return serve(ctx, cfg.Addr(), srv.Handler())
}

// serve blocks until ctx is cancelled, then drains open requests.
func serve(ctx context.Context, addr string, h http.Handler) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

func shutdownWith(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.WithError(err).Warn("telemetry shutdown")
	}
}

// storeScheme keeps file paths out of the startup log.
func storeScheme(handle string) string {
	scheme, _, ok := strings.Cut(handle, "://")
	if !ok {
		return "unknown"
	}
	return scheme
}
