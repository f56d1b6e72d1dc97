// Package httpapi exposes the generate and export use cases over HTTP next to
// the admin API, the checkout webhook and the metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LincolnGameplays/emprataai/internal/metrics"
	"github.com/LincolnGameplays/emprataai/internal/service"
	"github.com/LincolnGameplays/emprataai/internal/session"
)

type Server struct {
	addr       string
	username   string
	password   string
	log        *slog.Logger
	metrics    *metrics.Collectors
	accounts   *service.AccountService
	sessions   *session.Registry
	generation *service.GenerationService
	exports    *service.ExportService
	packages   *service.PackageService
	promos     *service.PromoService
	payments   *service.PaymentService
	router     *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, m *metrics.Collectors, accounts *service.AccountService, sessions *session.Registry, generation *service.GenerationService, exports *service.ExportService, packages *service.PackageService, promos *service.PromoService, payments *service.PaymentService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		username:   username,
		password:   password,
		log:        log,
		metrics:    m,
		accounts:   accounts,
		sessions:   sessions,
		generation: generation,
		exports:    exports,
		packages:   packages,
		promos:     promos,
		payments:   payments,
		router:     r,
	}

	r.Get("/healthz", s.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}
	r.Post("/webhook/checkout", s.handleCheckoutWebhook)

	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.Post("/", s.handleSignup)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/session", s.handleLogin)
			r.Delete("/session", s.handleLogout)
			r.Post("/generate", s.handleGenerate)
			r.Post("/export", s.handleExport)
			r.Post("/promo", s.handleRedeemPromo)
			r.Post("/checkout", s.handleCreateCheckout)
		})
	})

	r.Route("/admin", func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Route("/accounts/{id}", func(r chi.Router) {
			r.Put("/credits", s.handleSetCredits)
			r.Put("/plan", s.handleSetPlan)
			r.Post("/reset", s.handleResetAccount)
		})
		protected.Route("/packages", func(r chi.Router) {
			r.Get("/", s.handleListPackages)
			r.Post("/", s.handleCreatePackage)
			r.Put("/{id}", s.handleUpdatePackage)
			r.Delete("/{id}", s.handleDeletePackage)
		})
		protected.Route("/promo-codes", func(r chi.Router) {
			r.Get("/", s.handleListPromos)
			r.Post("/", s.handleCreatePromo)
			r.Put("/{id}", s.handleUpdatePromo)
			r.Delete("/{id}", s.handleDeletePromo)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Generation waits on the upstream model.
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || s.password == "" || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="emprata"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

// accountID reads the {id} path parameter and answers 400 itself when it is
// not a number.
func (s *Server) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
