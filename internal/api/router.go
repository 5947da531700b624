package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atendelab/zapdesk/internal/tenancy"
	"github.com/atendelab/zapdesk/internal/webhook"
	"github.com/atendelab/zapdesk/pkg/logging"
)

// RouterConfig wires the HTTP surface together.
type RouterConfig struct {
	Handlers  *Handlers
	Webhooks  *webhook.Handler
	Tenants   *tenancy.Store
	JWTSecret string
	Gatherer  prometheus.Gatherer
	Logger    *logging.Logger
}

// NewRouter builds the chi router: public webhook endpoints plus the
// JWT-and-tenant-scoped internal API.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// Webhook endpoints answer the provider; they authenticate with the
	// verify-token handshake, not JWT.
	r.Route("/webhooks/whatsapp/{tenantID}", func(r chi.Router) {
		r.Get("/", cfg.Webhooks.Verify)
		r.Post("/", cfg.Webhooks.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(JWTAuth(cfg.JWTSecret, logger))
		r.Use(TenantResolver(cfg.Tenants, logger))

		h := cfg.Handlers

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.ListChannels)
			r.Post("/", h.CreateChannel)
			r.Route("/{channelID}", func(r chi.Router) {
				r.Get("/status", h.ChannelStatus)
				r.Post("/connect", h.ConnectChannel)
				r.Post("/disconnect", h.DisconnectChannel)
				r.Delete("/", h.DeleteChannel)
				r.Get("/messages", h.ListChannelMessages)
				r.Post("/messages", h.SendMessage)
				r.Post("/messages/read", h.MarkRead)
				r.Get("/messages/unread", h.UnreadCount)
			})
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Post("/", h.CreateCredential)
			r.Patch("/{credentialID}", h.RotateCredential)
			r.Get("/history", h.CredentialsHistory)
		})

		r.Get("/messages/phone/{phone}", h.ListPhoneMessages)

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", h.ListTickets)
			r.Route("/{ticketID}", func(r chi.Router) {
				r.Get("/", h.GetTicket)
				r.Get("/messages", h.ListTicketMessages)
				r.Post("/transfer", h.TransferTicket)
				r.Post("/close", h.CloseTicket)
				r.Post("/notes", h.AddNote)
				r.Get("/transfers", h.ListTransfers)
			})
		})
	})

	return r
}
