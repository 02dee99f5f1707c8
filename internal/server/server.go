package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmd/devicetracker/config"
	"github.com/dmd/devicetracker/internal/handlers"
	"github.com/dmd/devicetracker/internal/metrics"
	"github.com/dmd/devicetracker/internal/mq"
	"github.com/dmd/devicetracker/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func() error

	Users  *services.UserDirectory
	Ledger *services.AssignmentLedger
}

// New wires the configured backends, services and routes.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	hasher, err := services.NewPasswordHasher(cfg.Auth.PasswordScheme)
	if err != nil {
		return nil, err
	}

	s := &Server{logger: logger}

	backend, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeStore)
	logger.Info("data backend ready", "backend", cfg.DataBackend)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	var notifier services.Notifier
	events, err := OpenEvents(ctx, cfg)
	if err != nil {
		_ = s.close()
		return nil, fmt.Errorf("connect events backend: %w", err)
	}
	if events != nil {
		s.closers = append(s.closers, events.Close)
		notifier = mq.NewEventPublisher(events, cfg.EventsChannel)
		logger.Info("assignment events enabled", "backend", cfg.EventsBackend, "channel", cfg.EventsChannel)
	}

	s.Users = services.NewUserDirectory(ctx, backend, logger)
	s.Ledger = services.NewAssignmentLedger(ctx, backend, services.LedgerOptions{
		Users:    s.Users,
		Recorder: collector,
		Notifier: notifier,
		Logger:   logger,
	})
	sessions := services.NewSessions(s.Users, cfg.Auth.SessionTTL, logger)

	auth := handlers.NewAuthHandler(s.Users, sessions, cfg.Auth.JWTSecret, handlers.AuthOptions{
		TokenTTL: cfg.Auth.SessionTTL,
		Limiter:  handlers.NewLoginLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginBurst, collector),
		Recorder: collector,
		Logger:   logger,
	})
	assignments := handlers.NewAssignmentHandler(s.Ledger)
	users := handlers.NewUserHandler(s.Users, hasher)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, auth)
	})
	router.Route("/devices", func(r chi.Router) {
		handlers.DeviceRouter(r, assignments, auth.RequireAuth)
	})
	router.Route("/assignments", func(r chi.Router) {
		handlers.AssignmentRouter(r, assignments, auth.RequireAuth)
	})
	router.Route("/admin/assignments", func(r chi.Router) {
		handlers.AdminAssignmentRouter(r, assignments, auth.RequireAuth)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, users, auth.RequireAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
