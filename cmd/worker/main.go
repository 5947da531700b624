package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atendelab/zapdesk/internal/bootstrap"
	"github.com/atendelab/zapdesk/internal/config"
	"github.com/atendelab/zapdesk/internal/contact"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/observability/metrics"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/internal/ticket"
	"github.com/atendelab/zapdesk/internal/worker"
	"github.com/atendelab/zapdesk/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.NewPgxPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	queueClient, err := bootstrap.NewQueueClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build queue client", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	publisher := queue.NewPublisher(queueClient, cfg.QueueMaxAttempts, cfg.QueueRetryDelay, logger.Component("queue"))

	messageStore := message.NewStore(pool)
	resolver := contact.NewResolver(contact.NewStore(pool), logger.Component("contact"))
	ticketSvc := ticket.NewService(ticket.NewStore(pool), messageStore, ticket.NewPgDirectory(pool), logger.Component("ticket"))

	processor := worker.NewProcessor(messageStore, resolver, ticketSvc, logger.Component("worker"))
	pipeline := worker.New(queueClient, publisher, processor,
		cfg.WorkerCount, cfg.ReceiveBatchSize, cfg.ReceiveWaitSecs, m, logger.Component("worker"))

	// Metrics-only listener; the worker serves no application traffic.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	pipeline.Start(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	pipeline.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
