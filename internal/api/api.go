// Package api provides the HTTP surface of AlterEgo: health, the Twilio
// webhook, rendered media, profile and contract access, payment confirmation
// and manual program runs.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/AlterEgo/internal/flow"
	"github.com/BTreeMap/AlterEgo/internal/messaging"
	"github.com/BTreeMap/AlterEgo/internal/program"
	"github.com/BTreeMap/AlterEgo/internal/store"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Server wires the HTTP routes to the store, the engine and the broadcaster.
type Server struct {
	store       store.Store
	engine      *flow.Engine
	deliverer   *messaging.Deliverer
	broadcaster *program.Broadcaster
	twilio      *messaging.TwilioService
	media       *MediaCache

	addr            string
	shutdownTimeout time.Duration
	now             func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithTwilio mounts the Twilio webhook.
func WithTwilio(svc *messaging.TwilioService) Option {
	return func(s *Server) { s.twilio = svc }
}

// WithMediaCache serves published images under /media/{id}.
func WithMediaCache(c *MediaCache) Option {
	return func(s *Server) { s.media = c }
}

// WithClock overrides time.Now for manual program runs.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a Server.
func NewServer(st store.Store, engine *flow.Engine, deliverer *messaging.Deliverer, b *program.Broadcaster, opts ...Option) *Server {
	s := &Server{
		store:           st,
		engine:          engine,
		deliverer:       deliverer,
		broadcaster:     b,
		addr:            DefaultAddr,
		shutdownTimeout: DefaultShutdownTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	if s.twilio != nil {
		r.Post("/twilio/webhook", s.twilio.TwilioWebhookHandler)
	}
	if s.media != nil {
		r.Get("/media/{id}", s.mediaHandler)
	}
	r.Route("/users/{id}", func(r chi.Router) {
		r.Get("/profile", s.getProfileHandler)
		r.Put("/profile", s.putProfileHandler)
		r.Get("/contracts", s.contractsHandler)
		r.Post("/subscription", s.subscriptionHandler)
	})
	r.Post("/program/{slot}/run", s.programRunHandler)
	return r
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
