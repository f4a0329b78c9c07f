package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/config"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/endpoint"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/jobs"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/middleware"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/service"
	httptransport "github.com/DolevBitran/dynamic-products-scraper/pkg/transport/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "1.0.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background job workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := a.startQueue()
	if err != nil {
		return err
	}
	defer queue.Stop()

	scheduler := jobs.NewScheduler(queue, logger)
	if cfg.Jobs.RescanInterval > 0 {
		if _, err := scheduler.Every(cfg.Jobs.RescanInterval, jobs.KindRescanProducts, nil); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           a.httpHandler(queue),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Jobs.MaxWait + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startQueue builds the job queue on the configured store, registers the job
// handlers and starts the workers.
func (a *app) startQueue() (*jobs.Queue, error) {
	store, err := a.jobStore()
	if err != nil {
		return nil, err
	}
	cfg := jobs.DefaultConfig()
	if a.cfg.Jobs.Workers > 0 {
		cfg.Workers = a.cfg.Jobs.Workers
	}
	cfg.PollInterval = a.cfg.Jobs.PollInterval
	cfg.MaxWait = a.cfg.Jobs.MaxWait
	queue := jobs.NewQueue(cfg, store, a.logger, a.metrics)
	service.RegisterJobs(queue, a.products, a.enricher, a.rescanner, a.logger)
	queue.Start()
	return queue, nil
}

func (a *app) httpHandler(queue *jobs.Queue) http.Handler {
	svc := service.NewService(a.fields, a.products, a.registry, a.reconciler, queue, a.logger)
	health := service.NewHealthService(a.logger, a.metrics, version,
		service.NamedPinger{Name: "database", Pinger: service.PingFunc(a.db.Health)},
		service.NamedPinger{Name: "job_store", Pinger: queue},
	)
	return httptransport.NewHTTPHandler(endpoint.MakeEndpoints(svc, health), httptransport.HTTPConfig{
		APIKey:            a.cfg.APIKey,
		MaxBodySize:       middleware.DefaultMaxBodySize,
		RequestsPerSecond: a.cfg.RateLimit.RPS,
		BurstSize:         a.cfg.RateLimit.Burst,
		TrustedProxies:    a.cfg.RateLimit.TrustedProxies,
		Logger:            a.logger,
		AllowedOrigins:    a.cfg.AllowedOrigins,
		Metrics:           a.metrics,
	})
}
