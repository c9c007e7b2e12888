package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PiRogueToolSuite/threatr/pkg/graph"
	"github.com/PiRogueToolSuite/threatr/pkg/health"
	"github.com/PiRogueToolSuite/threatr/pkg/logging"
	"github.com/PiRogueToolSuite/threatr/pkg/metrics"
	"github.com/PiRogueToolSuite/threatr/pkg/modules"
	"github.com/PiRogueToolSuite/threatr/pkg/scheduler"
	"github.com/PiRogueToolSuite/threatr/pkg/storage"
	"github.com/PiRogueToolSuite/threatr/pkg/taxonomy"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Options wires the server's collaborators.
type Options struct {
	Store        storage.Store
	Orchestrator *scheduler.Orchestrator
	Graph        *graph.Upserter
	Registry     *modules.Registry
	Taxonomy     *taxonomy.Taxonomy
	Checker      *health.Checker
	Metrics      *metrics.Registry
	Logger       logging.Logger

	// APIKeyHashes holds bcrypt hashes of accepted keys. Empty disables
	// authentication on the /api routes.
	APIKeyHashes []string

	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP front of the aggregation pipeline.
type Server struct {
	store    storage.Store
	orch     *scheduler.Orchestrator
	graph    *graph.Upserter
	registry *modules.Registry
	taxonomy *taxonomy.Taxonomy
	checker  *health.Checker
	metrics  *metrics.Registry
	logger   logging.Logger
	validate *validator.Validate

	apiKeyHashes []string
	httpServer   *http.Server
}

// NewServer builds the server and its routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{
		store:        opts.Store,
		orch:         opts.Orchestrator,
		graph:        opts.Graph,
		registry:     opts.Registry,
		taxonomy:     opts.Taxonomy,
		checker:      opts.Checker,
		metrics:      opts.Metrics,
		logger:       logger.With(logging.Component("api")),
		validate:     validator.New(),
		apiKeyHashes: opts.APIKeyHashes,
	}
	s.httpServer = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/requests", s.requireAuth(s.handleSubmit))
	mux.HandleFunc("GET /api/requests", s.requireAuth(s.handleListRequests))
	mux.HandleFunc("GET /api/requests/{id}", s.requireAuth(s.handleGetRequest))
	mux.HandleFunc("DELETE /api/requests/{id}", s.requireAuth(s.handleCancelRequest))
	mux.HandleFunc("GET /api/types", s.requireAuth(s.handleTypes))
	mux.HandleFunc("GET /api/types/supported", s.requireAuth(s.handleSupportedTypes))
	mux.HandleFunc("GET /api/modules", s.requireAuth(s.handleModules))
	mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			s.metrics.GetPrometheusRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	var handler http.Handler = mux
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.bodySizeLimitMiddleware(handler, maxBodyBytes)
	handler = s.panicRecoveryMiddleware(handler)
	return handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening",
		logging.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
