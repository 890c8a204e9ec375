package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/gorilla/mux"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/cors"

	"github.com/GPTx-global/oao-assistant/oracle/config"
	"github.com/GPTx-global/oao-assistant/oracle/coordinator"
	"github.com/GPTx-global/oao-assistant/oracle/health"
	"github.com/GPTx-global/oao-assistant/oracle/log"
	"github.com/GPTx-global/oao-assistant/oracle/recommend"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

// Recommender is satisfied by *recommend.Engine.
type Recommender interface {
	Recommend(ctx context.Context, request string, risk recommend.RiskProfile) (recommend.Recommendation, error)
}

// Deps are the long-lived components the API drives.
type Deps struct {
	Oracle  coordinator.Oracle
	Engine  Recommender
	Health  *health.Checker
	Metrics *metrics.InmemSink
	ModelID uint64
}

// Server exposes the recommendation and oracle request flow over HTTP for a
// UI. Oracle requests live in memory until deleted or the process exits.
type Server struct {
	deps     Deps
	cfg      config.ServerConfig
	router   *mux.Router
	requests cmap.ConcurrentMap[string, *coordinator.Coordinator]
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.ModelID == 0 {
		deps.ModelID = types.DefaultModelID
	}

	s := &Server{
		deps:     deps,
		cfg:      cfg,
		router:   mux.NewRouter(),
		requests: cmap.New[*coordinator.Coordinator](),
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.Use(s.observe)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/recommendations", s.handleRecommend).Methods(http.MethodPost)

	s.router.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	s.router.HandleFunc("/requests/{id}", s.handleDeleteRequest).Methods(http.MethodDelete)
	s.router.HandleFunc("/requests/{id}/fee", s.handleEstimateFee).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/{id}/submit", s.handleSubmit).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/{id}/confirm", s.handleConfirm).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/{id}/result", s.handleResult).Methods(http.MethodPost)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.router)
}

// Run serves on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Infof("HTTP API shutting down")
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		metrics.MeasureSinceWithLabels([]string{"http", "request"}, start, []metrics.Label{
			{Name: "method", Value: r.Method},
			{Name: "route", Value: route},
		})
		log.Debugf("%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

// writeError is the single place where errors become responses.
func writeError(w http.ResponseWriter, err error) {
	code := types.ErrorCode(err)

	status := http.StatusInternalServerError
	switch code {
	case "chain_read", "submission", "provider":
		status = http.StatusBadGateway
	case "invalid_state":
		status = http.StatusConflict
	case "not_found":
		status = http.StatusNotFound
	case "invalid_request":
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		log.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}
