package myhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/metrics"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/handle"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/middleware"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
	"pharmacy-delivery/internal/tracking-service/core/services"
)

const WaitTime = 10

var (
	staff   = []model.Role{model.RoleDispatcher, model.RoleAdmin, model.RoleSystem}
	drivers = []model.Role{model.RoleDriver}
	// Ownership is checked per delivery; the role list only keeps strangers out.
	participants = []model.Role{model.RoleDriver, model.RoleCustomer, model.RoleDispatcher, model.RoleAdmin, model.RoleSystem}
	operators    = []model.Role{model.RoleDriver, model.RoleDispatcher, model.RoleAdmin, model.RoleSystem}
)

type Server struct {
	mux     *http.ServeMux
	cfg     *config.Config
	srv     *http.Server
	mylog   mylogger.Logger
	svc     *services.Services
	metrics *metrics.Metrics
	checks  map[string]handle.HealthCheck
	ctx     context.Context
	mu      sync.Mutex
}

func NewServer(ctx context.Context, mylog mylogger.Logger, cfg *config.Config, svc *services.Services, m *metrics.Metrics, checks map[string]handle.HealthCheck) *Server {
	s := &Server{
		ctx:     ctx,
		cfg:     cfg,
		mylog:   mylog,
		svc:     svc,
		metrics: m,
		checks:  checks,
		mux:     http.NewServeMux(),
	}
	s.Configure()
	return s
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts listening. It returns when the server stops or ctx is done.
func (s *Server) Run() error {
	mylog := s.mylog.Action("server_started")

	s.mu.Lock()
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%v", s.cfg.Srv.TrackingServicePort),
		Handler:      s.mux,
		ReadTimeout:  s.cfg.Srv.ReadTimeout,
		WriteTimeout: s.cfg.Srv.WriteTimeout,
	}
	s.mu.Unlock()

	mylog.WithGroup("details").With("port", s.cfg.Srv.TrackingServicePort).Info("server is running")
	return s.startHTTPServer()
}

// Stop shuts the server down, waiting at most WaitTime seconds for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mylog.Info("Shutting down HTTP server...")

	if s.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, WaitTime*time.Second)
		defer cancel()

		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.mylog.Error("Failed to shut down HTTP server gracefully", err)
			return fmt.Errorf("http server shutdown: %w", err)
		}
	}

	s.mylog.Info("HTTP server shut down gracefully")
	return nil
}

func (s *Server) startHTTPServer() error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		} else {
			errCh <- nil
		}
	}()

	select {
	case <-s.ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Configure registers every route of the tracking API.
func (s *Server) Configure() {
	log := s.mylog.Action("http")
	pollInterval := s.cfg.Tracking.PollInterval

	deliveriesHandler := handle.NewDeliveriesHandler(s.svc.Delivery, s.svc.Dispatch, pollInterval, log)
	locationHandler := handle.NewLocationHandler(s.svc.Delivery, s.svc.Location, s.svc.ETA, log)
	verificationHandler := handle.NewVerificationHandler(s.svc.Delivery, s.svc.Verification, log)
	healthHandler := handle.NewHealthHandler(s.checks)

	auth := middleware.NewAuthMiddleware(s.cfg.Auth.JwtSecret)

	route := func(pattern, name string, h http.Handler, roles []model.Role) {
		s.mux.Handle(pattern, s.metrics.Instrument(name, auth.Wrap(h, roles...)))
	}

	route("POST /deliveries", "create_delivery", deliveriesHandler.CreateDelivery(), staff)
	route("GET /deliveries/{id}", "get_delivery", deliveriesHandler.GetDelivery(), participants)
	route("POST /deliveries/{id}/status", "update_status", deliveriesHandler.UpdateStatus(), operators)
	route("POST /deliveries/{id}/accept", "accept", deliveriesHandler.Accept(), drivers)
	route("POST /deliveries/{id}/assign", "assign", deliveriesHandler.Assign(), staff)
	route("POST /deliveries/{id}/cancel", "cancel", deliveriesHandler.Cancel(), operators)
	route("POST /deliveries/{id}/issues", "report_issue", deliveriesHandler.ReportIssue(), operators)
	route("GET /deliveries/available", "available", deliveriesHandler.Available(), drivers)
	route("GET /drivers/me/delivery", "my_delivery", deliveriesHandler.MyDelivery(), drivers)

	route("POST /deliveries/{id}/location", "record_location", locationHandler.RecordLocation(), drivers)
	route("GET /deliveries/{id}/location/current", "current_location", locationHandler.CurrentLocation(), participants)
	route("GET /deliveries/{id}/location/history", "location_history", locationHandler.History(), participants)
	route("GET /deliveries/{id}/eta", "eta", locationHandler.ETA(), participants)
	route("GET /deliveries/nearby", "nearby", locationHandler.Nearby(), staff)

	route("POST /deliveries/{id}/verification/send", "send_code", verificationHandler.SendCode(), operators)
	route("POST /deliveries/{id}/verification/verify", "verify_code", verificationHandler.VerifyCode(), participants)

	s.mux.Handle("GET /health", healthHandler.Health())
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}
