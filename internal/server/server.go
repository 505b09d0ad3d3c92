package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/paysplit-experiment/paysplit/config"
	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/gate"
	"github.com/paysplit-experiment/paysplit/internal/ledger"
	"github.com/paysplit-experiment/paysplit/internal/metrics"
	"github.com/paysplit-experiment/paysplit/internal/registry"
	"github.com/paysplit-experiment/paysplit/internal/splitter"
	"github.com/paysplit-experiment/paysplit/internal/token"
)

// Server handles HTTP requests for the settlement service.
type Server struct {
	cfg      *config.Config
	state    *ledger.State
	token    *token.Token
	engine   *splitter.Engine
	gate     *gate.Gate
	registry *registry.Registry
	events   *events.Store
	router   *mux.Router
	httpSrv  *http.Server
	started  time.Time
}

// Deps bundles the components a Server serves.
type Deps struct {
	Config   *config.Config
	State    *ledger.State
	Token    *token.Token
	Engine   *splitter.Engine
	Gate     *gate.Gate
	Registry *registry.Registry
	Events   *events.Store
}

func NewServer(deps Deps) *Server {
	s := &Server{
		cfg:      deps.Config,
		state:    deps.State,
		token:    deps.Token,
		engine:   deps.Engine,
		gate:     deps.Gate,
		registry: deps.Registry,
		events:   deps.Events,
		router:   mux.NewRouter(),
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router for testing
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metricsMiddleware)

	// Settlement
	s.router.HandleFunc("/split", s.handleSplit).Methods("POST")
	s.router.HandleFunc("/can-split/{address}", s.handleCanSplit).Methods("GET")

	// Account endpoints
	s.router.HandleFunc("/balance/{address}", s.handleGetBalance).Methods("GET")
	s.router.HandleFunc("/faucet", s.handleFaucet).Methods("POST")

	// Token endpoints
	s.router.HandleFunc("/token", s.handleTokenInfo).Methods("GET")
	s.router.HandleFunc("/token/balance/{address}", s.handleTokenBalance).Methods("GET")
	s.router.HandleFunc("/token/allowance/{owner}/{spender}", s.handleTokenAllowance).Methods("GET")
	s.router.HandleFunc("/token/approve", s.handleApprove).Methods("POST")

	// Verification endpoints (admin ops + reads)
	s.router.HandleFunc("/verification/{address}", s.handleGetVerification).Methods("GET")
	s.router.HandleFunc("/verify", s.handleVerify).Methods("POST")
	s.router.HandleFunc("/verify/batch", s.handleVerifyBatch).Methods("POST")
	s.router.HandleFunc("/verification-required", s.handleSetRequired).Methods("POST")

	// Registry endpoints
	s.router.HandleFunc("/splits", s.handleCreateSplit).Methods("POST")
	s.router.HandleFunc("/splits/{id}", s.handleGetSplit).Methods("GET")
	s.router.HandleFunc("/splits/{id}/execute", s.handleExecuteSplit).Methods("POST")
	s.router.HandleFunc("/splits/{id}/deactivate", s.handleDeactivateSplit).Methods("POST")

	// Audit log
	s.router.HandleFunc("/events", s.handleEvents).Methods("GET")

	// Operational
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Start blocks serving HTTP until Close is called or the listener fails.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Info().Str("addr", addr).Msg("server starting")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts down the HTTP server.
func (s *Server) Close(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
