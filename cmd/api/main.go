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

	"github.com/atendelab/zapdesk/internal/api"
	"github.com/atendelab/zapdesk/internal/bootstrap"
	"github.com/atendelab/zapdesk/internal/channel"
	"github.com/atendelab/zapdesk/internal/config"
	"github.com/atendelab/zapdesk/internal/message"
	"github.com/atendelab/zapdesk/internal/observability/metrics"
	"github.com/atendelab/zapdesk/internal/outbound"
	"github.com/atendelab/zapdesk/internal/provider"
	"github.com/atendelab/zapdesk/internal/queue"
	"github.com/atendelab/zapdesk/internal/tenancy"
	"github.com/atendelab/zapdesk/internal/ticket"
	"github.com/atendelab/zapdesk/internal/webhook"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// graphTokenExchanger adapts the provider client to the channel gateway.
type graphTokenExchanger struct {
	client *provider.Client
}

func (e graphTokenExchanger) ExchangeToken(ctx context.Context, clientID, clientSecret string) (*channel.Token, error) {
	resp, err := e.client.ExchangeToken(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	return &channel.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		ExpiresIn:   resp.ExpiresIn,
	}, nil
}

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

	providerClient := provider.NewClient(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIVersion, cfg.ProviderTimeout, logger.Component("provider"))

	channelSvc := channel.NewService(channel.NewStore(pool), graphTokenExchanger{client: providerClient}, logger.Component("channel"))
	messageStore := message.NewStore(pool)
	ticketSvc := ticket.NewService(ticket.NewStore(pool), messageStore, ticket.NewPgDirectory(pool), logger.Component("ticket"))
	outboundSvc := outbound.NewService(channelSvc, ticketSvc, messageStore, providerClient, publisher, m, logger.Component("outbound"))

	webhookHandler := webhook.NewHandler(channelSvc, publisher, cfg.WhatsAppVerifyToken, m, logger.Component("webhook"))
	handlers := api.NewHandlers(channelSvc, ticketSvc, messageStore, outboundSvc, logger.Component("api"))

	router := api.NewRouter(api.RouterConfig{
		Handlers:  handlers,
		Webhooks:  webhookHandler,
		Tenants:   tenancy.NewStore(pool),
		JWTSecret: cfg.APIJWTSecret,
		Gatherer:  registry,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server listening", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
