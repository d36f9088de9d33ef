// Package http exposes the gateway webhook, the back-office command endpoint and the
// client payment and rental endpoints.
package http

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"

	"bikefleet-backend/internal/security"
	"bikefleet-backend/internal/service"
)

// Services are the use cases the handlers call.
type Services struct {
	Payments service.PaymentService
	Billing  service.BillingService
	Rentals  service.RentalService
	Bookings service.BookingService
}

// Options configure authentication of the routes.
type Options struct {
	Tokens       security.TokenManager
	APIKey       *security.APIKeyVerifier
	WebhookCIDRs []*net.IPNet
	// Health reports readiness. Nil means always ready.
	Health func() error
	// DisableHTTPMetrics skips the request metrics middleware. Tests build many routers
	// and the default registry accepts the collectors once.
	DisableHTTPMetrics bool
}

type Server struct {
	services Services
	opts     Options
	router   *mux.Router
}

func NewServer(services Services, opts Options) *Server {
	s := &Server{
		services: services,
		opts:     opts,
		router:   mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Use(recovery, requestLogging)
	if !s.opts.DisableHTTPMetrics {
		mw := middleware.New(middleware.Config{
			Recorder: metricsprom.NewRecorder(metricsprom.Config{}),
		})
		s.router.Use(func(next http.Handler) http.Handler {
			return std.Handler("", mw, next)
		})
	}

	s.router.Handle("/health", s.secure("health", http.HandlerFunc(s.health))).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.secure("metrics", promhttp.Handler())).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/payments/webhook", s.secure("payments.webhook", http.HandlerFunc(s.handleWebhook))).Methods(http.MethodPost)
	api.Handle("/payments", s.secure("payments.client", http.HandlerFunc(s.handleClientPayment))).Methods(http.MethodPost)
	api.Handle("/rentals", s.secure("rentals.client", http.HandlerFunc(s.listRentals))).Methods(http.MethodGet)
	api.Handle("/rentals", s.secure("rentals.client", http.HandlerFunc(s.handleClientRental))).Methods(http.MethodPost)
	api.Handle("/balance", s.secure("clients.balance", http.HandlerFunc(s.getBalance))).Methods(http.MethodGet)
	api.Handle("/admin", s.secure("admin.commands", http.HandlerFunc(s.handleAdminCommand))).Methods(http.MethodPost)
	api.Handle("/admin/issues", s.secure("admin.issues", http.HandlerFunc(s.listIssues))).Methods(http.MethodGet)
	api.Handle("/admin/rentals/{id:[0-9]+}", s.secure("admin.rentals", http.HandlerFunc(s.getRental))).Methods(http.MethodGet)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
