// Package api serves RentBot's HTTP surface: the REST endpoints for
// properties, units and tenants, the generic chat webhook, and the
// WhatsApp Cloud and Twilio webhooks.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/RentBot/internal/conversation"
	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/store"
	"github.com/BTreeMap/RentBot/internal/twiliowhatsapp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Store is the record storage behind the REST endpoints.
type Store interface {
	store.PropertyRepo
	store.UnitRepo
	store.TenantRepo
}

// Bot answers chat messages.
type Bot interface {
	HandleMessage(ctx context.Context, userID, text string) (string, error)
}

// Summarizer writes prose summaries of records.
type Summarizer interface {
	GenerateEntitySummary(ctx context.Context, entity string, record any) (string, error)
}

// FlowInspector reports a user's flow in progress.
type FlowInspector interface {
	ActiveFlow(userID string) (conversation.Kind, int, bool)
}

// Deliverer accepts a message received by a webhook.
type Deliverer interface {
	Deliver(msg models.InboundMessage) error
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr            string
	Summarizer      Summarizer
	Flows           FlowInspector
	Cloud           Deliverer
	VerifyToken     string
	Twilio          Deliverer
	TwilioAuthToken string
	PublicURL       string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSummarizer enables GET /api/summary.
func WithSummarizer(s Summarizer) Option {
	return func(o *Opts) { o.Summarizer = s }
}

// WithFlowInspector enables GET /api/flow/{userID}.
func WithFlowInspector(f FlowInspector) Option {
	return func(o *Opts) { o.Flows = f }
}

// WithCloudWebhook mounts /whatsapp/webhook, verified with verifyToken.
func WithCloudWebhook(d Deliverer, verifyToken string) Option {
	return func(o *Opts) {
		o.Cloud = d
		o.VerifyToken = verifyToken
	}
}

// WithTwilioWebhook mounts /twilio/webhook. A non-empty authToken turns on
// signature checks.
func WithTwilioWebhook(d Deliverer, authToken string) Option {
	return func(o *Opts) {
		o.Twilio = d
		o.TwilioAuthToken = authToken
	}
}

// WithPublicURL sets the externally visible base URL (scheme and host)
// Twilio signs requests against.
func WithPublicURL(url string) Option {
	return func(o *Opts) { o.PublicURL = url }
}

// WithAllowedOrigins restricts CORS origins; the default allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// Server is the HTTP API.
type Server struct {
	st              Store
	bot             Bot
	summarizer      Summarizer
	flows           FlowInspector
	cloud           Deliverer
	verifyToken     string
	twilio          Deliverer
	twilioValidator *twiliowhatsapp.SignatureValidator
	publicURL       string
	addr            string
	shutdownTimeout time.Duration
	router          chi.Router
}

// NewServer builds the server and its routes.
func NewServer(st Store, bot Bot, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout, AllowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		st:              st,
		bot:             bot,
		summarizer:      cfg.Summarizer,
		flows:           cfg.Flows,
		cloud:           cfg.Cloud,
		verifyToken:     cfg.VerifyToken,
		twilio:          cfg.Twilio,
		publicURL:       cfg.PublicURL,
		addr:            cfg.Addr,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if cfg.TwilioAuthToken != "" {
		s.twilioValidator = twiliowhatsapp.NewSignatureValidator(cfg.TwilioAuthToken)
	}
	s.router = s.routes(cfg.AllowedOrigins)
	return s
}

func (s *Server) routes(origins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Post("/property", s.createPropertyHandler)
		r.Get("/property", s.listPropertiesHandler)
		r.Get("/property/{id}", s.getPropertyHandler)

		r.Post("/unit", s.createUnitHandler)
		r.Get("/unit", s.listUnitsHandler)
		r.Get("/unit/{id}", s.getUnitHandler)

		r.Post("/tenant", s.createTenantHandler)
		r.Get("/tenant", s.listTenantsHandler)
		r.Get("/tenant/{id}", s.getTenantHandler)

		r.Get("/summary/{type}/{id}", s.summaryHandler)
		r.Get("/flow/{userID}", s.flowHandler)
		r.Post("/webhook", s.chatWebhookHandler)
	})
	if s.cloud != nil {
		r.Get("/whatsapp/webhook", s.cloudVerifyHandler)
		r.Post("/whatsapp/webhook", s.cloudWebhookHandler)
	}
	if s.twilio != nil {
		r.Post("/twilio/webhook", s.twilioWebhookHandler)
	}
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "rentbot"}))
}
