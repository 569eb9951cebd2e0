package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xela07ax/spaceai-tool-guard/internal/domain"
	"github.com/xela07ax/spaceai-tool-guard/internal/identity"
	"go.uber.org/zap"
)

// Server: служебный HTTP API шлюза: health, метрики, просмотр и перечитывание политик.
// Инструменты агентам через него не отдаются.
type Server struct {
	router    *chi.Mux
	logger    *zap.Logger
	gatherer  prometheus.Gatherer
	validator *identity.Validator
	policies  *PolicyHandler
}

// NewServer собирает роутер. validator == nil: reload недоступен (нечем проверить оператора).
func NewServer(gatherer prometheus.Gatherer, validator *identity.Validator, policies *PolicyHandler, logger *zap.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("admin-api"),
		gatherer:  gatherer,
		validator: validator,
		policies:  policies,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Инфраструктурные middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/v1/policies", s.policies.List)

	// --- 3. Защищенный периметр: только операторы с высоким доверием ---
	if s.validator == nil {
		s.logger.Warn("auth public key not configured, policy reload endpoint disabled")
		return
	}
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(s.validator, domain.TrustHigh, s.logger))
		r.Post("/v1/policies/reload", s.policies.Reload)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
